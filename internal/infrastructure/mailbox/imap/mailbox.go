package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const uidIDPrefix = "uid:"

type Config struct {
	Addr     string
	Username string
	Password string
	Folder   string
	// TLS dials with implicit TLS (port 993). Plain connections are for local test servers.
	TLS bool
	// Lookback limits the search to messages received within this window.
	Lookback time.Duration
}

// Mailbox polls one IMAP folder. Each call opens its own session.
type Mailbox struct {
	cfg     Config
	storage ports.ObjectStorage

	mu   sync.Mutex
	uids map[string]uint32
}

func New(cfg Config, storage ports.ObjectStorage) *Mailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Mailbox{
		cfg:     cfg,
		storage: storage,
		uids:    make(map[string]uint32),
	}
}

// FetchNewMessages returns up to limit unseen messages without setting \Seen.
func (m *Mailbox) FetchNewMessages(ctx context.Context, limit int) ([]domain.InboundMessage, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.logout(c)

	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}
	if m.cfg.Lookback > 0 {
		criteria.Since = time.Now().Add(-m.cfg.Lookback)
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, wrapTemporary("imap search", err)
	}
	if len(uids) == 0 {
		return []domain.InboundMessage{}, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid, goimap.FetchInternalDate}

	fetched := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	out := make([]domain.InboundMessage, 0, len(uids))
	for raw := range fetched {
		body := raw.GetBody(section)
		if body == nil {
			slog.Warn("imap_message_without_body", "uid", raw.Uid)
			continue
		}
		fallbackID := uidIDPrefix + strconv.FormatUint(uint64(raw.Uid), 10)
		msg, err := parseMessage(ctx, body, fallbackID, raw.InternalDate, m.storage)
		if err != nil {
			slog.Error("imap_message_parse_failed", "uid", raw.Uid, "error", err)
			continue
		}
		m.remember(msg.MessageID, raw.Uid)
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		return nil, wrapTemporary("imap fetch", err)
	}
	return out, nil
}

func (m *Mailbox) MarkRead(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "imap mark read", errors.New("message id is required"))
	}

	c, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.logout(c)

	uid, ok := m.lookup(messageID)
	if !ok {
		uid, err = m.searchMessageID(c, messageID)
		if err != nil {
			return err
		}
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uid)
	flags := []interface{}{goimap.SeenFlag}
	if err := c.UidStore(seqset, goimap.FormatFlagsOp(goimap.AddFlags, true), flags, nil); err != nil {
		return wrapTemporary("imap store", err)
	}
	m.forget(messageID)
	return nil
}

func (m *Mailbox) searchMessageID(c *client.Client, messageID string) (uint32, error) {
	if strings.HasPrefix(messageID, uidIDPrefix) {
		n, err := strconv.ParseUint(strings.TrimPrefix(messageID, uidIDPrefix), 10, 32)
		if err != nil {
			return 0, domain.WrapError(domain.ErrInvalidInput, "imap mark read", err)
		}
		return uint32(n), nil
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, wrapTemporary("imap search", err)
	}
	if len(uids) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "imap mark read", fmt.Errorf("message %s not found", messageID))
	}
	return uids[0], nil
}

func (m *Mailbox) connect(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		c   *client.Client
		err error
	)
	if m.cfg.TLS {
		host := m.cfg.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		c, err = client.DialTLS(m.cfg.Addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	} else {
		c, err = client.Dial(m.cfg.Addr)
	}
	if err != nil {
		return nil, wrapTemporary("imap dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select %s: %w", m.cfg.Folder, err)
	}
	return c, nil
}

func (m *Mailbox) logout(c *client.Client) {
	if err := c.Logout(); err != nil {
		slog.Debug("imap_logout_failed", "error", err)
	}
}

func (m *Mailbox) remember(messageID string, uid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uids[messageID] = uid
}

func (m *Mailbox) lookup(messageID string) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.uids[messageID]
	return uid, ok
}

func (m *Mailbox) forget(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uids, messageID)
}

func wrapTemporary(op string, err error) error {
	return domain.WrapError(domain.ErrTemporary, op, err)
}
