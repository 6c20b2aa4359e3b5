package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Enqueuer records committed mutation events on a durable feed so
// out-of-scope collaborators can reconcile missed broadcasts.
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, payload []byte) error
}

// Dispatcher fans events out to the local hub, bridges them to other
// instances over a redis channel, and records mutation events on the
// durable feed. Every delivery path is best-effort: failures are logged
// and never surface to the mutation that triggered the publish.
type Dispatcher struct {
	hub        *Hub
	rc         *redis.Client
	channel    string
	feed       Enqueuer
	logger     *log.Logger
	instanceID string
}

// NewDispatcher creates a Dispatcher. rc and feed may be nil, which
// disables the bridge and the feed respectively.
func NewDispatcher(h *Hub, rc *redis.Client, channel string, feed Enqueuer, logger *log.Logger) *Dispatcher {
	if h == nil {
		panic("hub.NewDispatcher: hub is nil")
	}
	if logger == nil {
		panic("hub.NewDispatcher: logger is nil")
	}
	return &Dispatcher{
		hub:        h,
		rc:         rc,
		channel:    channel,
		feed:       feed,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// Hub exposes the underlying registry, mainly for read endpoints.
func (d *Dispatcher) Hub() *Hub { return d.hub }

// Owner returns the identity bound to a connection.
func (d *Dispatcher) Owner(connID string) (domain.Identity, bool) {
	return d.hub.Owner(connID)
}

// Register creates a connection for the identity.
func (d *Dispatcher) Register(identity domain.Identity) *Conn {
	return d.hub.Register(identity)
}

// Publish delivers a mutation event to every connection in the board's
// room, bridges it to other instances and records it on the event feed.
// It never returns an error: a transport hiccup must not undo or block a
// committed write.
func (d *Dispatcher) Publish(ctx context.Context, boardID, kind string, data any) {
	d.publish(ctx, boardID, kind, data, "", true)
}

func (d *Dispatcher) publish(ctx context.Context, boardID, kind string, data any, except string, toFeed bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("marshal event data: %v", err)
		return
	}
	payload, err := json.Marshal(domain.Envelope{
		Type:    kind,
		BoardID: boardID,
		Data:    raw,
		Time:    time.Now().UnixMilli(),
		Origin:  d.instanceID,
	})
	if err != nil {
		d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("marshal envelope: %v", err)
		return
	}

	d.hub.Broadcast(boardID, payload, except)

	if d.rc != nil {
		if err := d.rc.Publish(ctx, d.channel, payload).Err(); err != nil {
			d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("bridge publish: %v", err)
		}
	}
	if toFeed && d.feed != nil {
		if err := d.feed.EnqueueEvent(ctx, payload); err != nil {
			d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("event feed enqueue: %v", err)
		}
	}
}

// sendTo marshals an envelope and delivers it to a single connection.
// Like publish, failures are logged and never surface to the caller.
func (d *Dispatcher) sendTo(connID, boardID, kind string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("marshal event data: %v", err)
		return
	}
	env, err := json.Marshal(domain.Envelope{
		Type:    kind,
		BoardID: boardID,
		Data:    raw,
		Time:    time.Now().UnixMilli(),
		Origin:  d.instanceID,
	})
	if err != nil {
		d.logger.WithFields(log.Fields{"board": boardID, "kind": kind}).Errorf("marshal envelope: %v", err)
		return
	}
	d.hub.SendTo(connID, env)
}

// Join subscribes the connection to the board. The joiner receives the
// full presence_list snapshot; when the user becomes newly present the
// rest of the room receives one presence_join delta.
func (d *Dispatcher) Join(ctx context.Context, connID, boardID string) error {
	res, err := d.hub.Join(connID, boardID)
	if err != nil {
		return err
	}

	identity, _ := d.hub.Owner(connID)
	d.sendTo(connID, boardID, domain.PresenceList, domain.PresenceListData{BoardID: boardID, Users: res.Snapshot})

	if res.NewlyPresent {
		d.publish(ctx, boardID, domain.PresenceJoin, domain.PresenceJoinData{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			AvatarRef:   identity.AvatarRef,
			BoardID:     boardID,
		}, connID, false)
	}
	return nil
}

// Leave unsubscribes the connection from the board, emitting a
// presence_leave delta when the user's last connection departs.
func (d *Dispatcher) Leave(ctx context.Context, connID, boardID string) {
	dep, left := d.hub.Leave(connID, boardID)
	if left && dep.LastOfUser {
		d.publish(ctx, boardID, domain.PresenceLeave, domain.PresenceLeaveData{UserID: dep.UserID, BoardID: boardID}, "", false)
	}
}

// Ping refreshes the user's presence snapshot on the board.
func (d *Dispatcher) Ping(connID, boardID string) bool {
	return d.hub.Refresh(connID, boardID)
}

// Disconnect removes the connection from every room it joined, before
// the caller returns. This is the mandatory cleanup on stream teardown.
func (d *Dispatcher) Disconnect(ctx context.Context, connID string) {
	for _, dep := range d.hub.Unregister(connID) {
		if dep.LastOfUser {
			d.publish(ctx, dep.BoardID, domain.PresenceLeave, domain.PresenceLeaveData{UserID: dep.UserID, BoardID: dep.BoardID}, "", false)
		}
	}
}

// Run consumes the redis bridge channel and fans foreign events out to
// local subscribers. It reconnects on channel loss and returns when ctx
// is canceled. A nil redis client makes Run a no-op.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.rc == nil {
		return
	}
	for {
		sub := d.rc.Subscribe(ctx, d.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var env domain.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					d.logger.Errorf("bridge: unable to parse event: %v", err)
					continue
				}
				if env.Origin == d.instanceID {
					continue
				}
				d.hub.Broadcast(env.BoardID, []byte(msg.Payload), "")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		d.logger.Error("bridge channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
