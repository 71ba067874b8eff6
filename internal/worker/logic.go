package worker

import (
	"context"
	"strings"
)

// Subscriptions is the slice of the store the worker needs.
type Subscriptions interface {
	AddSubscriber(ctx context.Context, tenantID int64, chatID string) error
	RemoveSubscriber(ctx context.Context, tenantID int64, chatID string) (bool, error)
	IsSubscribed(ctx context.Context, tenantID int64, chatID string) (bool, error)
}

// Asker answers free-form questions. The GPT client satisfies it.
type Asker interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// resolveStart picks the prompt variant for a /start based on current
// subscription state.
func resolveStart(ctx context.Context, subs Subscriptions, tenantID int64, chatKey string) (text string, subscribed bool, err error) {
	subscribed, err = subs.IsSubscribed(ctx, tenantID, chatKey)
	if err != nil {
		return "", false, err
	}
	if subscribed {
		return replyAlreadyPrompt, true, nil
	}
	return replySubscribePrompt, false, nil
}

// resolveCallback applies one button action against the store and returns the
// text the prompt message should be edited to. Both the duplicate subscribe
// and the unsubscribe-when-absent cases are no-ops with their own replies.
func resolveCallback(ctx context.Context, subs Subscriptions, tenantID int64, chatKey, action string) (string, error) {
	subscribed, err := subs.IsSubscribed(ctx, tenantID, chatKey)
	if err != nil {
		return "", err
	}

	switch action {
	case actionSubscribeYes:
		if subscribed {
			return replyAlreadySubscribed, nil
		}
		if err := subs.AddSubscriber(ctx, tenantID, chatKey); err != nil {
			return "", err
		}
		return replySubscribed, nil

	case actionSubscribeNo:
		return replyDeclined, nil

	case actionUnsubscribe:
		if !subscribed {
			return replyNeverSubscribed, nil
		}
		if _, err := subs.RemoveSubscriber(ctx, tenantID, chatKey); err != nil {
			return "", err
		}
		return replyUnsubscribed, nil
	}
	return "", nil
}

// askPrompt strips the command prefix from an /ask message.
func askPrompt(text string) string {
	rest := strings.TrimPrefix(text, "/ask")
	if i := strings.IndexByte(rest, '@'); i == 0 {
		// "/ask@botname question" form.
		if j := strings.IndexByte(rest, ' '); j >= 0 {
			rest = rest[j:]
		} else {
			rest = ""
		}
	}
	return strings.TrimSpace(rest)
}
