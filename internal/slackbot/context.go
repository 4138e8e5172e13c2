package slackbot

import (
	"context"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/cache"
)

// ContextType classifies where a conversation happens. Private contexts get
// a more personal tone and are marked confidential in activity logs.
type ContextType string

const (
	ContextPublic  ContextType = "public"
	ContextPrivate ContextType = "private"
	ContextUnknown ContextType = "unknown"
)

// conversationsAPI is the slice of the Slack client the context manager
// needs, kept narrow so tests can stub it.
type conversationsAPI interface {
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

// ContextManager decides whether a channel is public or private, caching
// channel metadata in Redis when a cache is configured.
type ContextManager struct {
	api    conversationsAPI
	cache  *cache.ChannelCache
	logger *zap.Logger
}

// NewContextManager builds a context manager. channelCache may be nil.
func NewContextManager(api conversationsAPI, channelCache *cache.ChannelCache, logger *zap.Logger) *ContextManager {
	return &ContextManager{api: api, cache: channelCache, logger: logger}
}

// ContextTypeFor classifies a channel. DM and legacy private-group IDs are
// recognized by prefix without an API call; everything else goes through
// conversations.info. Lookup failures classify as unknown, never as public.
func (m *ContextManager) ContextTypeFor(ctx context.Context, channelID string) ContextType {
	if channelID == "" {
		return ContextUnknown
	}
	if channelID[0] == 'D' || channelID[0] == 'G' {
		return ContextPrivate
	}

	info := m.channelInfo(ctx, channelID)
	if info == nil {
		return ContextUnknown
	}
	if info.IsPrivate || info.IsIM || info.IsMPIM {
		return ContextPrivate
	}
	return ContextPublic
}

// channelInfo returns channel metadata from the cache or the API, or nil
// when neither can provide it.
func (m *ContextManager) channelInfo(ctx context.Context, channelID string) *cache.ChannelInfo {
	if m.cache != nil {
		info, err := m.cache.Get(ctx, channelID)
		if err != nil {
			m.logger.Warn("channel cache lookup failed", zap.String("channel_id", channelID), zap.Error(err))
		} else if info != nil {
			return info
		}
	}

	channel, err := m.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		m.logger.Warn("conversations.info failed", zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}

	info := &cache.ChannelInfo{
		ID:        channel.ID,
		Name:      channel.Name,
		IsPrivate: channel.IsPrivate,
		IsIM:      channel.IsIM,
		IsMPIM:    channel.IsMpIM,
	}
	if m.cache != nil {
		if err := m.cache.Put(ctx, *info); err != nil {
			m.logger.Warn("channel cache store failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}
	return info
}

// PrivacyLevel maps a context type to the label stored with activity logs.
func (m *ContextManager) PrivacyLevel(t ContextType) string {
	switch t {
	case ContextPrivate:
		return "confidential"
	case ContextPublic:
		return "team"
	default:
		return "unknown"
	}
}

// FormatResponse personalizes a reply in private contexts by prefixing the
// user mention. Public replies stay untouched.
func (m *ContextManager) FormatResponse(message string, t ContextType, userID string) string {
	if t == ContextPrivate && userID != "" {
		return "<@" + userID + ">, " + message
	}
	return message
}
