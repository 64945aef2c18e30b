// Package access decides who may use the bot. Denials are silent: the caller
// drops the message without replying.
package access

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/sirupsen/logrus"
)

// Context is the requester as seen by the chat adapter. An empty GroupID
// means a direct message.
type Context struct {
	GroupID  string
	SenderID string
	IsAdmin  bool
}

// Direct reports whether the message is a private chat.
func (c Context) Direct() bool {
	return strings.TrimSpace(c.GroupID) == ""
}

// AllowList is the member list of a restricted group. Valid is false when the
// configured value was not a list.
type AllowList struct {
	Valid   bool
	Members map[string]struct{}
}

func (a AllowList) Contains(id string) bool {
	_, ok := a.Members[id]
	return ok
}

// Policy is the parsed permission config.
type Policy struct {
	OpenGroups map[string]struct{}
	Restricted map[string]AllowList
	Admins     map[string]struct{}
}

func set(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out[it] = struct{}{}
		}
	}
	return out
}

// NewPolicy builds a Policy. restricted_groups may be a JSON string or an
// already decoded object; anything malformed becomes an empty map.
func NewPolicy(perms config.PermissionsConfig, admins []string, log *logrus.Logger) Policy {
	return Policy{
		OpenGroups: set(perms.OpenGroups),
		Restricted: parseRestricted(perms.RestrictedGroups, log),
		Admins:     set(admins),
	}
}

func parseRestricted(raw any, log *logrus.Logger) map[string]AllowList {
	out := make(map[string]AllowList)

	var groups map[string]any
	switch v := raw.(type) {
	case nil:
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return out
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&groups); err != nil {
			log.WithFields(logrus.Fields{
				"component": "access",
				"raw":       v,
			}).WithError(err).Warn("Failed to parse restricted_groups, using empty object")
			return out
		}
	case map[string]any:
		groups = v
	default:
		log.WithFields(logrus.Fields{
			"component": "access",
			"type":      fmt.Sprintf("%T", raw),
		}).Warn("Unsupported restricted_groups value, using empty object")
		return out
	}

	for group, members := range groups {
		list, ok := members.([]any)
		if !ok {
			out[strings.TrimSpace(group)] = AllowList{}
			continue
		}
		ids := make([]string, 0, len(list))
		for _, m := range list {
			ids = append(ids, stringify(m))
		}
		out[strings.TrimSpace(group)] = AllowList{Valid: true, Members: set(ids)}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// Gate applies a Policy.
type Gate struct {
	policy Policy
	log    *logrus.Logger
}

func NewGate(policy Policy, log *logrus.Logger) *Gate {
	return &Gate{policy: policy, log: log}
}

// FromConfig builds a Gate from the alist.permissions and bot.admins
// sections.
func FromConfig(cfg *config.Config, log *logrus.Logger) *Gate {
	return NewGate(NewPolicy(cfg.Alist.Permissions, cfg.Bot.Admins, log), log)
}

func (g *Gate) isAdmin(c Context) bool {
	if c.IsAdmin {
		return true
	}
	_, ok := g.policy.Admins[strings.TrimSpace(c.SenderID)]
	return ok
}

// Allow reports whether the requester may run commands.
func (g *Gate) Allow(c Context) bool {
	if c.Direct() {
		return g.isAdmin(c)
	}

	group := strings.TrimSpace(c.GroupID)
	sender := strings.TrimSpace(c.SenderID)

	if _, open := g.policy.OpenGroups[group]; !open {
		return false
	}

	list, restricted := g.policy.Restricted[group]
	if !restricted {
		return true
	}
	if !list.Valid {
		g.log.WithFields(logrus.Fields{
			"component": "access",
			"group":     group,
		}).Warn("Restricted group entry is not a list, allowing everyone")
		return true
	}
	return list.Contains(sender)
}
