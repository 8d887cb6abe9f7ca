// Package keyscope names the targets a wrapped secret can belong to: one
// channel, the team's community key, or the team key.
package keyscope

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindChannel   Kind = "channel"
	KindCommunity Kind = "community"
	KindTeam      Kind = "team"
)

// Scope is a tagged variant over the three key targets. ChannelID is only
// set for KindChannel.
type Scope struct {
	Kind      Kind
	ChannelID string
}

func Channel(id string) Scope { return Scope{Kind: KindChannel, ChannelID: id} }

func Community() Scope { return Scope{Kind: KindCommunity} }

func Team() Scope { return Scope{Kind: KindTeam} }

// Versioned reports whether the scope carries key versions. Community and
// team keys have a single version.
func (s Scope) Versioned() bool { return s.Kind == KindChannel }

func (s Scope) String() string {
	if s.Kind == KindChannel {
		return string(KindChannel) + ":" + s.ChannelID
	}
	return string(s.Kind)
}

func (s Scope) Validate() error {
	switch s.Kind {
	case KindChannel:
		if strings.TrimSpace(s.ChannelID) == "" {
			return fmt.Errorf("keyscope: channel scope without channel id")
		}
	case KindCommunity, KindTeam:
		if s.ChannelID != "" {
			return fmt.Errorf("keyscope: %s scope must not carry a channel id", s.Kind)
		}
	default:
		return fmt.Errorf("keyscope: unknown kind %q", s.Kind)
	}
	return nil
}

// Parse reads the String form back.
func Parse(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	var s Scope
	switch {
	case raw == string(KindCommunity):
		s = Community()
	case raw == string(KindTeam):
		s = Team()
	case strings.HasPrefix(raw, string(KindChannel)+":"):
		s = Channel(strings.TrimPrefix(raw, string(KindChannel)+":"))
	default:
		return Scope{}, fmt.Errorf("keyscope: cannot parse %q", raw)
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}
