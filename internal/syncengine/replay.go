package syncengine

import (
	"context"

	"chat-sync/internal/model"
	"chat-sync/internal/outbox"
)

// replayOutbox retries queued writes oldest first. It stops at the first
// transient failure so later writes do not overtake earlier ones.
func (e *Engine) replayOutbox(ctx context.Context) {
	if e.outbox == nil {
		return
	}
	entries, err := e.outbox.List()
	if err != nil {
		e.log.Warn("outbox unreadable", "err", err)
		return
	}
	for _, entry := range entries {
		err := e.replay(ctx, entry)
		switch {
		case err == nil:
		case permanent(err):
			e.log.Warn("dropping rejected outbox write", "op", entry.Op, "id", entry.TargetID, "err", err)
		default:
			if merr := e.outbox.MarkFailed(entry.Seq, err); merr != nil {
				e.log.Error("outbox update failed", "seq", entry.Seq, "err", merr)
			}
			e.log.Debug("outbox replay paused", "op", entry.Op, "err", err)
			return
		}
		if err := e.outbox.Remove(entry.Seq); err != nil {
			e.log.Error("outbox remove failed", "seq", entry.Seq, "err", err)
			return
		}
	}
}

func (e *Engine) replay(ctx context.Context, entry outbox.Entry) error {
	switch entry.Op {
	case outbox.OpCreateConversation:
		var c model.Conversation
		if err := entry.Decode(&c); err != nil {
			return nil
		}
		stored, err := e.remote.CreateConversation(ctx, c)
		if err == nil {
			e.acceptServerConversation(ctx, stored)
		}
		return err
	case outbox.OpUpdateConversation:
		var patch model.ConversationPatch
		if err := entry.Decode(&patch); err != nil {
			return nil
		}
		_, err := e.remote.UpdateConversation(ctx, entry.TargetID, patch)
		return err
	case outbox.OpDeleteConversation:
		return e.remote.DeleteConversation(ctx, entry.TargetID)
	case outbox.OpCreateMessage:
		var m model.Message
		if err := entry.Decode(&m); err != nil {
			return nil
		}
		_, err := e.remote.CreateMessage(ctx, m)
		return err
	case outbox.OpUpdateMessage:
		var patch model.MessagePatch
		if err := entry.Decode(&patch); err != nil {
			return nil
		}
		_, err := e.remote.UpdateMessage(ctx, entry.TargetID, patch)
		return err
	case outbox.OpDeleteMessage:
		return e.remote.DeleteMessage(ctx, entry.TargetID)
	case outbox.OpCreateProject:
		var p model.Project
		if err := entry.Decode(&p); err != nil {
			return nil
		}
		_, err := e.remote.CreateProject(ctx, p)
		return err
	case outbox.OpRenameProject:
		var p model.Project
		if err := entry.Decode(&p); err != nil {
			return nil
		}
		_, err := e.remote.RenameProject(ctx, entry.TargetID, p.Name)
		return err
	case outbox.OpDeleteProject:
		return e.remote.DeleteProject(ctx, entry.TargetID)
	case outbox.OpLinkProject:
		return e.remote.LinkConversation(ctx, entry.TargetID, entry.ConversationID)
	case outbox.OpUnlinkProject:
		return e.remote.UnlinkConversation(ctx, entry.TargetID, entry.ConversationID)
	}
	e.log.Warn("unknown outbox op", "op", entry.Op)
	return nil
}
