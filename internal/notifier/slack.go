package notifier

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"
)

// SlackNotifier posts the message to every Slack channel the bot is a member of.
type SlackNotifier struct {
	SlackSender
	Logger *slog.Logger
	Title  string
	userID string
	lock   sync.Mutex
}

type SlackSender interface {
	PostMessage(string, ...slack.MsgOption) (string, string, error)
	GetConversations(*slack.GetConversationsParameters) ([]slack.Channel, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

var _ Notifier = &SlackNotifier{}

// NewSlackNotifier returns a SlackNotifier for the bot with the given token.
func NewSlackNotifier(token string, title string, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		SlackSender: slack.New(token),
		Logger:      logger,
		Title:       title,
	}
}

func (s *SlackNotifier) Notify(msg string) {
	channels, err := s.getChannels()
	if err != nil {
		s.Logger.Error("notifier failed to retrieve channels", slog.Any("err", err))
		return
	}
	for _, channel := range channels {
		s.Logger.Debug("notifying on slack", slog.String("channel", channel.Name))
		_, _, err = s.SlackSender.PostMessage(channel.ID, slack.MsgOptionAttachments(s.attachment(msg)))
		if err != nil {
			s.Logger.Error("notifier failed to post message", slog.String("channel", channel.Name), slog.Any("err", err))
		}
	}
}

func (s *SlackNotifier) attachment(msg string) slack.Attachment {
	return slack.Attachment{
		Color: "warning",
		Title: s.Title,
		Text:  msg,
	}
}

func (s *SlackNotifier) getChannels() ([]slack.Channel, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.userID == "" {
		authResp, err := s.SlackSender.AuthTest()
		if err != nil {
			return nil, fmt.Errorf("AuthTest: %w", err)
		}
		s.userID = authResp.UserID
	}

	var joinedChannels []slack.Channel
	var cursor string
	for {
		channels, nextCursor, err := s.SlackSender.GetConversations(&slack.GetConversationsParameters{Cursor: cursor, Limit: 100})
		if err != nil {
			return nil, fmt.Errorf("GetConversations: %w", err)
		}
		for _, channel := range channels {
			if channel.IsMember && !channel.IsArchived {
				joinedChannels = append(joinedChannels, channel)
			}
		}
		if cursor = nextCursor; cursor == "" {
			break
		}
	}
	return joinedChannels, nil
}
