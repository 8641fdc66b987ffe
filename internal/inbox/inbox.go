// Package inbox verifies, deduplicates, and dispatches inbound
// ActivityPub activities against local state.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/delivery"
	"github.com/klppl/gathernet/internal/mention"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/signing"
	"github.com/klppl/gathernet/internal/store"
)

// defaultActivityTTL bounds how long a processed activity id is remembered
// for replay suppression, used when Processor.ActivityTTL is zero.
const defaultActivityTTL = 14 * 24 * time.Hour

// Processor is the inbox pipeline: verify, parse, dedup, dispatch.
type Processor struct {
	Store       *store.Store
	Resolver    *activitypub.Resolver
	Delivery    *delivery.Pipeline
	Broadcaster *realtime.Broadcaster
	BaseURL     string
	AutoAccept  bool
	// ActivityTTL bounds how long a processed activity id is remembered for
	// replay suppression. Zero uses defaultActivityTTL.
	ActivityTTL time.Duration
}

func (p *Processor) activityTTL() time.Duration {
	if p.ActivityTTL <= 0 {
		return defaultActivityTTL
	}
	return p.ActivityTTL
}

// Handle runs the full pipeline for one inbound HTTP POST and returns the
// HTTP status to write. A 401/400 means the body was rejected outright and
// nothing was persisted; 202 covers both a successful dispatch and a
// swallowed handler error (the activity is still marked processed so a
// malformed activity is not retried forever).
func (p *Processor) Handle(req *http.Request, body []byte) int {
	keyID, verr := signing.Verify(req, body, p.Resolver.PublicKeyResolver())
	if verr != nil {
		slog.Warn("inbox: signature rejected", "error", verr, "key_id", keyID)
		_ = p.Store.WriteAuditLog("inbox_signature_rejected", fmt.Sprintf("key_id=%s error=%v", keyID, verr))
		return verr.Status()
	}

	act, err := activitypub.ParseIncoming(body)
	if err != nil {
		slog.Warn("inbox: malformed activity", "error", err)
		_ = p.Store.WriteAuditLog("inbox_malformed_activity", err.Error())
		return http.StatusBadRequest
	}

	if act.ID != "" {
		seen, err := p.Store.WasActivityProcessed(act.ID)
		if err != nil {
			slog.Warn("inbox: dedup check failed", "error", err)
		} else if seen {
			return http.StatusAccepted
		}
	}

	ctx := req.Context()
	if err := p.dispatch(ctx, act); err != nil {
		slog.Warn("inbox: handler error", "activity_id", act.ID, "type", act.Type, "error", err)
		_ = p.Store.WriteAuditLog("inbox_handler_error", fmt.Sprintf("activity_id=%s type=%s error=%v", act.ID, act.Type, err))
	}

	if act.ID != "" {
		if err := p.Store.MarkActivityProcessed(act.ID, p.activityTTL()); err != nil {
			slog.Warn("inbox: mark processed failed", "activity_id", act.ID, "error", err)
		}
	}
	return http.StatusAccepted
}

func (p *Processor) dispatch(ctx context.Context, act *activitypub.IncomingActivity) error {
	switch act.Type {
	case "Follow":
		return p.handleFollow(ctx, act)
	case "Accept":
		return p.handleAccept(ctx, act)
	case "TentativeAccept":
		return p.handleAttendanceReply(ctx, act, model.AttendanceMaybe)
	case "Reject":
		return p.handleReject(ctx, act)
	case "Create":
		return p.handleCreate(ctx, act)
	case "Update":
		return p.handleUpdate(ctx, act)
	case "Delete":
		return p.handleDelete(ctx, act)
	case "Like":
		return p.handleLike(ctx, act)
	case "Announce":
		return p.handleAnnounce(ctx, act)
	case "Undo":
		return p.handleUndo(ctx, act)
	default:
		slog.Debug("inbox: unhandled activity type", "type", act.Type)
		return nil
	}
}

// handleFollow upserts a Follower row and, on auto-accept, replies Accept.
func (p *Processor) handleFollow(ctx context.Context, act *activitypub.IncomingActivity) error {
	targetActorURL := act.ObjectAsString()
	target, err := p.Store.GetUserByActorURL(targetActorURL)
	if err != nil {
		return err
	}
	if target == nil || target.IsRemote {
		return fmt.Errorf("follow target %s is not a local user", targetActorURL)
	}

	remote, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || remote == nil {
		return fmt.Errorf("resolve follower actor %s: %w", act.Actor, err)
	}

	if err := p.Store.AddFollower(target.ID, act.Actor, remote.InboxURL); err != nil {
		return err
	}
	if !p.AutoAccept {
		return nil
	}
	if err := p.Store.AcceptFollower(target.ID, act.Actor); err != nil {
		return err
	}

	n := &model.Notification{UserID: target.ID, Type: model.NotificationFollow, Title: "New follower", Body: act.Actor}
	if _, err := p.Store.CreateNotification(n); err != nil {
		slog.Warn("inbox: follow notification failed", "error", err)
	}
	p.broadcast(model.BroadcastNotificationCreate, &target.ID, n)

	followActivity := map[string]interface{}{"id": act.ID, "type": "Follow", "actor": act.Actor, "object": targetActorURL}
	accept := activitypub.BuildAccept(p.BaseURL, targetActorURL, followActivity, act.Actor)
	return p.Delivery.Enqueue(target.ID, targetActorURL, accept, []string{act.Actor}, nil, nil)
}

// handleAccept dispatches by the wrapped activity: Accept-of-Follow flips
// Following.accepted; Accept-of-event-URL is an attendance RSVP.
func (p *Processor) handleAccept(ctx context.Context, act *activitypub.IncomingActivity) error {
	if inner := act.ObjectAsActivity(); inner != nil && inner.Type == "Follow" {
		followerActorURL := inner.Actor
		local, err := p.Store.GetUserByActorURL(followerActorURL)
		if err != nil {
			return err
		}
		if local == nil || local.IsRemote {
			return fmt.Errorf("accepted follow actor %s is not a local follower", followerActorURL)
		}
		return p.Store.AcceptFollowing(local.ID, act.Actor)
	}
	return p.handleAttendanceReply(ctx, act, model.AttendanceAttending)
}

// handleReject dispatches Reject-of-Follow (drop Following) vs. Reject of an
// event URL (a "not attending" RSVP).
func (p *Processor) handleReject(ctx context.Context, act *activitypub.IncomingActivity) error {
	if inner := act.ObjectAsActivity(); inner != nil && inner.Type == "Follow" {
		followerActorURL := inner.Actor
		local, err := p.Store.GetUserByActorURL(followerActorURL)
		if err != nil {
			return err
		}
		if local == nil || local.IsRemote {
			return fmt.Errorf("rejected follow actor %s is not a local follower", followerActorURL)
		}
		return p.Store.RemoveFollowing(local.ID, act.Actor)
	}
	return p.handleAttendanceReply(ctx, act, model.AttendanceNotAttending)
}

func (p *Processor) handleAttendanceReply(ctx context.Context, act *activitypub.IncomingActivity, status model.AttendanceStatus) error {
	eventURL := act.ObjectAsString()
	event, err := p.Store.GetEventByExternalID(eventURL)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("attendance reply for unknown event %s", eventURL)
	}
	actor, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("resolve attendee %s: %w", act.Actor, err)
	}
	if err := p.Store.SetAttendance(&model.Attendance{EventID: event.ID, UserID: actor.ID, Status: status, ExternalID: act.ID}); err != nil {
		return err
	}
	p.broadcast(model.BroadcastAttendanceUpdated, nil, map[string]interface{}{"event_id": event.ID, "user_id": actor.ID, "status": status})
	return nil
}

// handleCreate dispatches Create-Event (new federated event) and
// Create-Note-in-reply-to-event (comment).
func (p *Processor) handleCreate(ctx context.Context, act *activitypub.IncomingActivity) error {
	if eventObj := act.ObjectAsEvent(); eventObj != nil && eventObj.Type == "Event" {
		return p.createRemoteEvent(ctx, act, eventObj)
	}
	if note := act.ObjectAsNote(); note != nil && note.Type == "Note" && note.InReplyTo != "" {
		return p.createRemoteComment(ctx, act, note)
	}
	return nil
}

func (p *Processor) createRemoteEvent(ctx context.Context, act *activitypub.IncomingActivity, obj *activitypub.EventObject) error {
	if obj.AttributedTo != act.Actor {
		return apperr.AuthMismatchErr(fmt.Sprintf("event attributedTo %s does not match actor %s", obj.AttributedTo, act.Actor))
	}
	author, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || author == nil {
		return fmt.Errorf("resolve event author %s: %w", act.Actor, err)
	}

	existing, err := p.Store.GetEventByExternalID(obj.ID)
	if err != nil {
		return err
	}
	ev := remoteEventFromObject(obj, author.ID)
	if existing != nil {
		ev.ID = existing.ID
		if err := p.Store.UpdateEvent(ev); err != nil {
			return err
		}
	} else {
		id, err := p.Store.CreateEvent(ev)
		if err != nil {
			return err
		}
		ev.ID = id
	}
	p.broadcast(model.BroadcastEventCreated, nil, ev)
	return nil
}

func remoteEventFromObject(obj *activitypub.EventObject, authorID int64) *model.Event {
	start, _ := time.Parse(time.RFC3339, obj.StartTime)
	end, _ := time.Parse(time.RFC3339, obj.EndTime)
	summary := obj.Summary
	if summary == "" {
		summary = obj.Content
	}
	e := &model.Event{
		AuthorID:     authorID,
		ExternalID:   obj.ID,
		AttributedTo: obj.AttributedTo,
		Title:        obj.Name,
		Summary:      summary,
		StartTime:    start,
		EndTime:      end,
		Visibility:   model.VisibilityPublic,
		ExternalURL:  obj.URL,
	}
	if obj.Location != nil {
		e.Location = obj.Location.Name
		if obj.Location.Latitude != 0 || obj.Location.Longitude != 0 {
			e.Geo = &model.GeoPoint{Latitude: obj.Location.Latitude, Longitude: obj.Location.Longitude}
		}
	}
	seenTags := make(map[string]bool, len(obj.Tag))
	for _, tag := range obj.Tag {
		t, err := store.NormalizeTag(tag.Name)
		if err != nil || t == "" || seenTags[t] {
			continue
		}
		seenTags[t] = true
		e.Tags = append(e.Tags, t)
	}
	return e
}

func (p *Processor) createRemoteComment(ctx context.Context, act *activitypub.IncomingActivity, note *activitypub.Note) error {
	event, err := p.Store.GetEventByExternalID(note.InReplyTo)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("comment in reply to unknown event %s", note.InReplyTo)
	}
	author, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || author == nil {
		return fmt.Errorf("resolve comment author %s: %w", act.Actor, err)
	}

	existing, err := p.Store.GetCommentByExternalID(note.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	c := &model.Comment{
		EventID:    event.ID,
		AuthorID:   author.ID,
		Content:    activitypub.HTMLToText(note.Content),
		ExternalID: note.ID,
	}
	resolved, err := mention.Parse(ctx, p.Store, p.Resolver, c.Content)
	if err != nil {
		return err
	}
	var mentionedIDs []int64
	for _, r := range resolved {
		mentionedIDs = append(mentionedIDs, r.User.ID)
	}
	id, err := p.Store.CreateComment(c, mentionedIDs)
	if err != nil {
		return err
	}
	c.ID = id

	for _, r := range resolved {
		n := mention.NotificationFor(r.User.ID, author.Username, event)
		if _, err := p.Store.CreateNotification(n); err != nil {
			slog.Warn("inbox: mention notification failed", "error", err)
			continue
		}
		p.broadcast(model.BroadcastNotificationCreate, &r.User.ID, n)
	}
	p.broadcast(model.BroadcastCommentCreated, nil, c)
	return nil
}

// handleUpdate dispatches Update-Event (overwrite fields, ignoring unseen
// events per policy) and Update-Person (remote profile refresh).
func (p *Processor) handleUpdate(ctx context.Context, act *activitypub.IncomingActivity) error {
	if obj := act.ObjectAsEvent(); obj != nil && obj.Type == "Event" {
		existing, err := p.Store.GetEventByExternalID(obj.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		if existing.AttributedTo != act.Actor {
			return apperr.AuthMismatchErr(fmt.Sprintf("update actor %s does not match attributedTo %s", act.Actor, existing.AttributedTo))
		}
		ev := remoteEventFromObject(obj, existing.AuthorID)
		ev.ID = existing.ID
		if err := p.Store.UpdateEvent(ev); err != nil {
			return err
		}
		p.broadcast(model.BroadcastEventUpdated, nil, ev)
		return nil
	}

	var actor activitypub.Actor
	if err := decodeObject(act, &actor); err == nil && actor.Type == "Person" {
		return p.Store.UpdateRemoteUserProfile(act.Actor, &model.User{
			DisplayName: actor.Name,
			Summary:     actor.Summary,
			IconURL:     iconURL(&actor),
			InboxURL:    actor.Inbox,
		})
	}
	return nil
}

func iconURL(a *activitypub.Actor) string {
	if a.Icon != nil {
		return a.Icon.URL
	}
	return ""
}

func decodeObject(act *activitypub.IncomingActivity, v interface{}) error {
	return json.Unmarshal(act.Object, v)
}

// handleDelete removes the target Event or Comment, or tombstones the actor,
// depending on what kind of id it turns out to reference. A delete of an
// absent object is a no-op.
func (p *Processor) handleDelete(ctx context.Context, act *activitypub.IncomingActivity) error {
	targetURL := act.ObjectAsString()
	if targetURL == "" {
		if t := act.ObjectAsActivity(); t != nil {
			targetURL = t.ID
		}
	}
	if targetURL == "" {
		return nil
	}

	if event, err := p.Store.GetEventByExternalID(targetURL); err != nil {
		return err
	} else if event != nil {
		if event.AttributedTo != act.Actor {
			return apperr.AuthMismatchErr("delete actor does not match event attributedTo")
		}
		if err := p.Store.DeleteEventByExternalID(targetURL); err != nil {
			return err
		}
		p.broadcast(model.BroadcastEventDeleted, nil, map[string]interface{}{"external_id": targetURL})
		return nil
	}

	if comment, err := p.Store.GetCommentByExternalID(targetURL); err != nil {
		return err
	} else if comment != nil {
		if err := p.Store.DeleteCommentByExternalID(targetURL); err != nil {
			return err
		}
		p.broadcast(model.BroadcastCommentDeleted, nil, map[string]interface{}{"external_id": targetURL})
		return nil
	}

	if targetURL == act.Actor {
		return p.Store.TombstoneUser(targetURL)
	}
	return nil
}

// handleLike upserts a Like on the referenced event.
func (p *Processor) handleLike(ctx context.Context, act *activitypub.IncomingActivity) error {
	eventURL := act.ObjectAsString()
	event, err := p.Store.GetEventByExternalID(eventURL)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("like of unknown event %s", eventURL)
	}
	actor, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("resolve liker %s: %w", act.Actor, err)
	}
	if err := p.Store.AddLike(&model.Like{EventID: event.ID, UserID: actor.ID, ExternalID: act.ID}); err != nil {
		return err
	}
	p.broadcast(model.BroadcastLikeAdded, nil, map[string]interface{}{"event_id": event.ID, "user_id": actor.ID})
	return nil
}

// handleAnnounce creates a local share row referencing the original event.
func (p *Processor) handleAnnounce(ctx context.Context, act *activitypub.IncomingActivity) error {
	eventURL := act.ObjectAsString()
	original, err := p.Store.GetEventByExternalID(eventURL)
	if err != nil {
		return err
	}
	if original == nil {
		return fmt.Errorf("announce of unknown event %s", eventURL)
	}
	actor, err := p.Resolver.Resolve(ctx, act.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("resolve announcer %s: %w", act.Actor, err)
	}
	sharedID := original.ID
	share := &model.Event{
		AuthorID:      actor.ID,
		ExternalID:    act.ID,
		AttributedTo:  act.Actor,
		Title:         original.Title,
		Visibility:    model.VisibilityPublic,
		SharedEventID: &sharedID,
		StartTime:     original.StartTime,
		EndTime:       original.EndTime,
	}
	if _, err := p.Store.CreateEvent(share); err != nil {
		return err
	}
	p.broadcast(model.BroadcastEventShared, nil, share)
	return nil
}

// handleUndo dispatches the three invertible inline activities: Like,
// Follow, and an Accept/TentativeAccept (attendance) acknowledgement.
func (p *Processor) handleUndo(ctx context.Context, act *activitypub.IncomingActivity) error {
	inner := act.ObjectAsActivity()
	if inner == nil {
		return nil
	}
	switch inner.Type {
	case "Like":
		eventURL := inner.ObjectAsString()
		event, err := p.Store.GetEventByExternalID(eventURL)
		if err != nil || event == nil {
			return err
		}
		actor, err := p.Store.GetUserByActorURL(act.Actor)
		if err != nil || actor == nil {
			return err
		}
		if err := p.Store.RemoveLike(event.ID, actor.ID); err != nil {
			return err
		}
		p.broadcast(model.BroadcastLikeRemoved, nil, map[string]interface{}{"event_id": event.ID, "user_id": actor.ID})
		return nil
	case "Follow":
		targetActorURL := inner.ObjectAsString()
		target, err := p.Store.GetUserByActorURL(targetActorURL)
		if err != nil || target == nil {
			return err
		}
		return p.Store.RemoveFollower(target.ID, act.Actor)
	case "Accept", "TentativeAccept":
		eventURL := inner.ObjectAsString()
		event, err := p.Store.GetEventByExternalID(eventURL)
		if err != nil || event == nil {
			return err
		}
		actor, err := p.Store.GetUserByActorURL(act.Actor)
		if err != nil || actor == nil {
			return err
		}
		return p.Store.ClearAttendance(event.ID, actor.ID)
	default:
		return nil
	}
}

func (p *Processor) broadcast(t model.BroadcastType, userID *int64, payload interface{}) {
	if p.Broadcaster == nil {
		return
	}
	p.Broadcaster.Publish(model.BroadcastMessage{Type: t, TargetUserID: userID, Payload: payload})
}
