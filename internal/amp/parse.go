package amp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseInstances accepts either a list of instances or an object with an "instances" list.
// An instance is either an object or a bare string, which is used as both its ID and name.
func parseInstances(body []byte) ([]Instance, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		var wrapped struct {
			Instances []json.RawMessage `json:"instances"`
		}
		if err = json.Unmarshal(body, &wrapped); err != nil || wrapped.Instances == nil {
			return nil, fmt.Errorf("%w: unexpected response structure when listing instances", ErrAPIUnavailable)
		}
		entries = wrapped.Instances
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if instance, ok := parseInstance(entry); ok {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

func parseInstance(entry json.RawMessage) (Instance, bool) {
	var name string
	if err := json.Unmarshal(entry, &name); err == nil {
		return Instance{ID: name, Name: name}, name != ""
	}
	var obj struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		InstanceID   string `json:"InstanceID"`
		InstanceName string `json:"InstanceName"`
		FriendlyName string `json:"FriendlyName"`
	}
	if err := json.Unmarshal(entry, &obj); err != nil {
		return Instance{}, false
	}
	instance := Instance{
		ID:   firstNonEmpty(obj.ID, obj.InstanceID, obj.InstanceName),
		Name: firstNonEmpty(obj.Name, obj.FriendlyName, obj.InstanceName),
	}
	if instance.ID == "" {
		instance.ID = instance.Name
	}
	if instance.Name == "" {
		instance.Name = instance.ID
	}
	return instance, instance.ID != ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// parsePlayerCounts returns a count for every requested instance.
// A count is a number, a numeric string or an object with a "players" field. Anything else counts as zero.
func parsePlayerCounts(body []byte, instanceIDs []string) (map[string]int, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return nil, fmt.Errorf("%w: unexpected response when reading player counts", ErrAPIUnavailable)
	}
	counts := make(map[string]int, len(instanceIDs))
	for _, id := range instanceIDs {
		counts[id] = parseCount(data[id])
	}
	return counts, nil
}

func parseCount(value json.RawMessage) int {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return 0
	}
	if value[0] == '{' {
		var obj struct {
			Players json.RawMessage `json:"players"`
		}
		if err := json.Unmarshal(value, &obj); err != nil {
			return 0
		}
		return parseCount(obj.Players)
	}

	var number json.Number
	if err := json.Unmarshal(value, &number); err == nil {
		return toInt(string(number))
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

func toInt(number string) int {
	if n, err := strconv.Atoi(number); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(number, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Trunc(f))
}
