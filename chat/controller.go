package chat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"meshchat/crypto"
	"meshchat/message"
	"meshchat/receipt"
	"meshchat/wire"
)

var (
	// ErrNoActiveGroup indicates an operation that needs a joined group.
	ErrNoActiveGroup = errors.New("no active group")

	// ErrUnknownMessage indicates a message id the controller does not hold.
	ErrUnknownMessage = errors.New("unknown message")
)

// Store is the persistence collaborator the controller saves and restores
// messages through. Implementations must load leniently: corrupt records
// are skipped, not fatal. The bbolt-backed implementation lives in
// package store.
type Store interface {
	SaveMessage(groupID string, msg message.ChatMessage) error
	LoadMessages(groupID string) ([]message.ChatMessage, error)
	ClearGroup(groupID string) error
}

// ControllerConfig carries the collaborators a Controller wires together
// for each group it joins.
type ControllerConfig struct {
	Transport  wire.Transport
	Sessions   *crypto.SessionManager
	Self       crypto.PeerID
	SenderName string

	// Store is optional; without it messages live only in memory.
	Store Store

	// Roster optionally supplies the membership of a group, used to scope
	// receipt tracking.
	Roster func(groupID string) []crypto.PeerID
}

// Controller owns the repository/receipt-service pairing scoped to the
// active group. Switching groups tears the old pairing down completely,
// subscriptions first, before the new one starts listening, so a stale
// callback from an abandoned group can never touch the new group's state.
type Controller struct {
	cfg ControllerConfig

	// lifeMu serializes join/leave/close; it is never held while waiting
	// on the merge loops' state mutex.
	lifeMu sync.Mutex

	repo *MeshRepository
	svc  *receipt.Service
	wg   sync.WaitGroup

	groupID string
	msgs    []message.ChatMessage
	index   map[string]int
	mu      sync.Mutex
}

// NewController creates a controller with no active group.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:   cfg,
		index: make(map[string]int),
	}
}

// JoinGroup switches the controller to a group: the previous pairing is
// fully disposed first, persisted messages are restored (status kept,
// acknowledgement sets reset), then a fresh repository and receipt service
// begin listening.
func (c *Controller) JoinGroup(groupID string) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.teardown()

	restored := c.restore(groupID)
	c.mu.Lock()
	c.groupID = groupID
	c.msgs = restored
	c.index = make(map[string]int, len(restored))
	for i, msg := range restored {
		c.index[msg.ID] = i
	}
	c.mu.Unlock()

	var roster func() []crypto.PeerID
	if c.cfg.Roster != nil {
		roster = func() []crypto.PeerID { return c.cfg.Roster(groupID) }
	}

	svc := receipt.NewService(receipt.Config{
		Transport: c.cfg.Transport,
		Self:      c.cfg.Self,
		Roster:    roster,
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start receipt service: %w", err)
	}

	repo := NewMeshRepository(MeshConfig{
		Transport: c.cfg.Transport,
		Sessions:  c.cfg.Sessions,
		Self:      c.cfg.Self,
		Receipts:  svc,
	})

	c.mu.Lock()
	c.repo = repo
	c.svc = svc
	c.mu.Unlock()

	c.wg.Add(2)
	go c.consumeMessages(repo)
	go c.mergeReceipts(svc)

	logrus.WithFields(logrus.Fields{
		"function": "JoinGroup",
		"group":    groupID,
		"restored": len(restored),
	}).Info("Joined chat group")
	return nil
}

// LeaveGroup disposes the active pairing and clears the group's messages,
// in memory and in the store.
func (c *Controller) LeaveGroup() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	groupID := c.groupID
	c.mu.Unlock()
	if groupID == "" {
		return ErrNoActiveGroup
	}

	c.teardown()

	c.mu.Lock()
	c.groupID = ""
	c.msgs = nil
	c.index = make(map[string]int)
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.ClearGroup(groupID); err != nil {
			return fmt.Errorf("failed to clear group history: %w", err)
		}
	}
	return nil
}

// Close disposes the active pairing. The controller is not reusable after
// Close only by convention; JoinGroup would revive it.
func (c *Controller) Close() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.teardown()
	return nil
}

// SendMessage broadcasts to the active group and records the local message.
func (c *Controller) SendMessage(text string) (message.ChatMessage, error) {
	repo := c.activeRepo()
	if repo == nil {
		return message.ChatMessage{}, ErrNoActiveGroup
	}

	msg, err := repo.SendMessage(text, c.cfg.SenderName)
	if err != nil {
		return message.ChatMessage{}, err
	}
	c.addMessage(msg)
	return msg, nil
}

// SendPrivateMessage sends privately within the active group and records
// the local message. A missing session surfaces as crypto.ErrNoSession so
// the UI can show "no secure channel" instead of a false sent indicator.
func (c *Controller) SendPrivateMessage(text string, to crypto.PeerID) (message.ChatMessage, error) {
	repo := c.activeRepo()
	if repo == nil {
		return message.ChatMessage{}, ErrNoActiveGroup
	}

	msg, err := repo.SendPrivateMessage(text, to)
	if err != nil {
		return message.ChatMessage{}, err
	}
	c.addMessage(msg)
	return msg, nil
}

// MarkRead emits a read receipt for a remote message the user has seen.
func (c *Controller) MarkRead(messageID string) error {
	c.mu.Lock()
	svc := c.svc
	i, ok := c.index[messageID]
	var msg message.ChatMessage
	if ok {
		msg = c.msgs[i]
	}
	c.mu.Unlock()

	if svc == nil {
		return ErrNoActiveGroup
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if msg.IsLocal {
		return nil
	}
	return svc.SendReadReceipt(msg.Sender, msg.ID)
}

// Messages returns a snapshot of the active group's messages in arrival
// order. Entries are immutable values; the caller may hold them freely.
func (c *Controller) Messages() []message.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]message.ChatMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// teardown disposes the current pairing and waits for the merge loops. The
// receipt service goes first: its subscriptions are cancelled before the
// repository releases anything, and both are gone before a successor may
// start listening.
func (c *Controller) teardown() {
	c.mu.Lock()
	svc, repo := c.svc, c.repo
	c.svc, c.repo = nil, nil
	c.mu.Unlock()

	if svc != nil {
		svc.Dispose()
	}
	if repo != nil {
		_ = repo.Dispose()
	}
	c.wg.Wait()
}

func (c *Controller) activeRepo() *MeshRepository {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo
}

// restore loads the group's persisted messages. The store decodes
// leniently, so corrupt records cost only themselves.
func (c *Controller) restore(groupID string) []message.ChatMessage {
	if c.cfg.Store == nil {
		return nil
	}

	msgs, err := c.cfg.Store.LoadMessages(groupID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "restore",
			"group":    groupID,
			"error":    err,
		}).Warn("Failed to load persisted messages")
		return nil
	}
	return msgs
}

func (c *Controller) consumeMessages(repo *MeshRepository) {
	defer c.wg.Done()

	for msg := range repo.Messages() {
		c.addMessage(msg)
	}
}

func (c *Controller) mergeReceipts(svc *receipt.Service) {
	defer c.wg.Done()

	for rcpt := range svc.Receipts() {
		c.applyReceipt(svc, rcpt)
	}
}

// addMessage appends a message, ignoring duplicate ids (the mesh may
// deliver the same broadcast along several paths).
func (c *Controller) addMessage(msg message.ChatMessage) {
	c.mu.Lock()
	if _, exists := c.index[msg.ID]; exists {
		c.mu.Unlock()
		return
	}
	c.index[msg.ID] = len(c.msgs)
	c.msgs = append(c.msgs, msg)
	groupID := c.groupID
	c.mu.Unlock()

	c.persist(groupID, msg)
}

// applyReceipt merges one acknowledgement into the matching message.
// Unknown ids are ignored; there is nothing to update. The message list
// entry is replaced wholesale with the derived copy, so snapshot readers
// never see a half-applied update.
func (c *Controller) applyReceipt(svc *receipt.Service, rcpt receipt.Receipt) {
	if !svc.InRoster(rcpt.From) {
		logrus.WithFields(logrus.Fields{
			"function":   "applyReceipt",
			"from":       rcpt.From.String(),
			"message_id": rcpt.MessageID,
		}).Debug("Receipt from peer outside current roster")
	}

	c.mu.Lock()
	i, ok := c.index[rcpt.MessageID]
	if !ok || !c.msgs[i].IsLocal {
		c.mu.Unlock()
		return
	}

	before := c.msgs[i]
	after := before.ApplyReceipt(rcpt.From, rcpt.Kind)
	c.msgs[i] = after
	groupID := c.groupID
	changed := after.Status != before.Status
	c.mu.Unlock()

	if changed {
		c.persist(groupID, after)
	}
}

func (c *Controller) persist(groupID string, msg message.ChatMessage) {
	if c.cfg.Store == nil || groupID == "" {
		return
	}
	if err := c.cfg.Store.SaveMessage(groupID, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "persist",
			"group":      groupID,
			"message_id": msg.ID,
			"error":      err,
		}).Warn("Failed to persist message")
	}
}
