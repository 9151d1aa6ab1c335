package app

import "context"

// ReadTrigger 只有使用者真的看到最新訊息時才標記已讀
type ReadTrigger struct {
	c *Coordinator
}

// ReadTrigger visibility hooks for the UI shell
func (c *Coordinator) ReadTrigger() *ReadTrigger {
	return &ReadTrigger{c: c}
}

// NewestVisible messageID 進入畫面, 它必須是目前聊天室最新的一則
func (t *ReadTrigger) NewestVisible(ctx context.Context, messageID string) (bool, error) {
	newest, ok := t.c.stores.Messages.Newest()
	if !ok || newest.ID != messageID {
		return false, nil
	}
	return t.c.markReadIfBehind(ctx)
}

// WindowFocused 視窗重新取得焦點, 只有已經捲到最底時才算讀到
func (t *ReadTrigger) WindowFocused(ctx context.Context, atBottom bool) (bool, error) {
	if !atBottom {
		return false, nil
	}
	return t.c.markReadIfBehind(ctx)
}
