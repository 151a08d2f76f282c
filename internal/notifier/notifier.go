// Package notifier tells the operator that the host is being shut down.
package notifier

type Notifier interface {
	Notify(string)
}

// Notifiers sends a message to each of its Notifier.
type Notifiers []Notifier

func (n Notifiers) Notify(msg string) {
	for _, l := range n {
		l.Notify(msg)
	}
}
