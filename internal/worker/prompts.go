package worker

import "sync"

// promptTracker remembers the most recent inline-button prompt per chat so a
// fresh /start can delete the stale one. State is process-local and lost on
// restart; old buttons then simply get re-resolved against the store.
type promptTracker struct {
	mu    sync.Mutex
	byKey map[string]prompt
}

type prompt struct {
	messageID int
	active    bool
}

func newPromptTracker() *promptTracker {
	return &promptTracker{byKey: map[string]prompt{}}
}

// activePrompt returns the live prompt's message ID for the chat, if any.
func (t *promptTracker) activePrompt(chatKey string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byKey[chatKey]
	if !ok || !p.active {
		return 0, false
	}
	return p.messageID, true
}

// remember replaces the chat's tracked prompt with a live one.
func (t *promptTracker) remember(chatKey string, messageID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[chatKey] = prompt{messageID: messageID, active: true}
}

// deactivate marks the chat's prompt as answered. The entry stays so the
// message ID is still known, mirroring answered-but-not-deleted prompts.
func (t *promptTracker) deactivate(chatKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byKey[chatKey]
	if !ok {
		return
	}
	p.active = false
	t.byKey[chatKey] = p
}
