// Package whatsapp implements transport.Transport on top of whatsmeow.
//
// Each identity gets its own device database under DeviceDir so concurrent
// sessions never share signal state. whatsmeow's own reconnect loop is turned
// off: the pairing manager owns the retry policy.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/walink/internal/transport"

	_ "modernc.org/sqlite"
)

const (
	defaultClientName  = "Chrome (Linux)"
	maxImageBytes      = 8 << 20
	imageFetchTimeout  = 20 * time.Second
	deviceDBFile       = "device.db"
	deviceStoreDialect = "sqlite"
)

// errDeviceMissing is reported when stored credentials exist but the device
// database lost its keys; the session can only be recovered by pairing again.
var errDeviceMissing = errors.New("whatsapp: device keys missing for stored credentials")

// Options configures the transport.
type Options struct {
	// DeviceDir holds one <identity>/device.db per session.
	DeviceDir string
	// ClientName is shown on the phone's linked devices list, e.g. "Chrome (Linux)".
	ClientName string
	// LogLevel filters whatsmeow's internal logging (debug, info, warn, error).
	LogLevel string
	// HTTPClient fetches image payloads; defaults to a client with a timeout.
	HTTPClient *http.Client
}

// Transport creates whatsmeow-backed handles.
type Transport struct {
	opts Options
	log  waLog.Logger
}

func New(opts Options) *Transport {
	if opts.ClientName == "" {
		opts.ClientName = defaultClientName
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: imageFetchTimeout}
	}
	store.SetOSInfo("walink", [3]uint32{1, 0, 0})
	return &Transport{opts: opts, log: newLogger("whatsmeow", opts.LogLevel)}
}

// DevicePath returns the device database path for identity.
func (t *Transport) DevicePath(identity string) string {
	return filepath.Join(t.opts.DeviceDir, identity, deviceDBFile)
}

func (t *Transport) NewHandle(identity string, creds []byte) (transport.Handle, error) {
	ctx := context.Background()
	path := t.DevicePath(identity)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open device db: %w", err)
	}
	db.SetMaxOpenConns(1)

	log := t.log.Sub(identity)
	container := sqlstore.NewWithDB(db, deviceStoreDialect, log.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	// Without stored credentials any leftover device must not be reused:
	// the session was cleared (logout) and has to pair from scratch.
	if creds == nil && device.ID != nil {
		slog.Info("whatsapp: discarding stale device", "identity", identity)
		if err := device.Delete(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("delete stale device: %w", err)
		}
		if device, err = container.GetFirstDevice(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("load device: %w", err)
		}
	}

	client := whatsmeow.NewClient(device, log.Sub("client"))
	client.EnableAutoReconnect = false

	h := &handle{
		identity: identity,
		client:   client,
		db:       db,
		hadCreds: creds != nil,
		mapper:   newMapper(),
		name:     t.opts.ClientName,
		http:     t.opts.HTTPClient,
		released: make(chan struct{}),
	}
	h.handlerID = client.AddEventHandler(h.onEvent)
	return h, nil
}

// handle is one whatsmeow client plus its device database.
type handle struct {
	identity  string
	client    *whatsmeow.Client
	db        *sql.DB
	hadCreds  bool
	mapper    *mapper
	name      string
	http      *http.Client
	handlerID uint32

	subs      transport.Subscribers
	closed    atomic.Bool
	closeOnce sync.Once
	released  chan struct{}
}

func (h *handle) onEvent(evt any) {
	if h.closed.Load() {
		return
	}
	for _, ev := range h.mapper.mapEvent(evt) {
		h.subs.Emit(ev)
	}
}

func (h *handle) Subscribe(kind transport.Kind, fn func(transport.Event)) func() {
	return h.subs.Subscribe(kind, fn)
}

func (h *handle) Open(_ context.Context) error {
	if h.hadCreds && h.client.Store.ID == nil {
		h.subs.Emit(closedEvent(transport.ReasonLoggedOut, errDeviceMissing))
		return nil
	}
	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	return nil
}

func (h *handle) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := h.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, h.name)
	if err != nil {
		return "", fmt.Errorf("whatsapp pair phone: %w", err)
	}
	return code, nil
}

func (h *handle) Self() string {
	id := h.client.Store.ID
	if id == nil {
		return ""
	}
	return id.ToNonAD().String()
}

func (h *handle) Send(ctx context.Context, to string, p transport.Payload) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	msg, err := h.build(ctx, p)
	if err != nil {
		return err
	}
	if _, err := h.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}

func (h *handle) build(ctx context.Context, p transport.Payload) (*waE2E.Message, error) {
	if r := p.Reaction; r != nil {
		chat, err := types.ParseJID(r.Key.Chat)
		if err != nil {
			return nil, fmt.Errorf("parse reaction chat: %w", err)
		}
		sender, err := types.ParseJID(r.Key.Sender)
		if err != nil {
			return nil, fmt.Errorf("parse reaction sender: %w", err)
		}
		return h.client.BuildReaction(chat, sender, r.Key.ID, r.Emoji), nil
	}
	if p.ImageURL != "" {
		img, err := h.uploadImage(ctx, p.ImageURL, p.Text)
		if err == nil {
			return &waE2E.Message{ImageMessage: img}, nil
		}
		slog.Warn("whatsapp: image unavailable, sending text", "identity", h.identity, "url", p.ImageURL, "error", err)
	}
	return &waE2E.Message{Conversation: proto.String(p.Text)}, nil
}

func (h *handle) uploadImage(ctx context.Context, url, caption string) (*waE2E.ImageMessage, error) {
	data, mime, err := h.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	up, err := h.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	return &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mime),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}, nil
}

func (h *handle) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (h *handle) MarkRead(ctx context.Context, keys ...transport.MessageKey) error {
	type group struct{ chat, sender string }
	ids := make(map[group][]types.MessageID)
	for _, k := range keys {
		g := group{k.Chat, k.Sender}
		ids[g] = append(ids[g], k.ID)
	}
	var errs []error
	for g, batch := range ids {
		chat, err := types.ParseJID(g.chat)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sender, err := types.ParseJID(g.sender)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := h.client.MarkRead(ctx, batch, time.Now(), chat, sender); err != nil {
			errs = append(errs, fmt.Errorf("mark read in %s: %w", g.chat, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops event delivery at once and releases the client and its device
// database in the background. It is safe to call from inside an event
// subscriber: whatsmeow holds its handler list lock while a callback runs, so
// removing the handler there would never return.
func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.subs.Reset()
		go h.release()
	})
	return nil
}

func (h *handle) release() {
	defer close(h.released)
	h.client.RemoveEventHandler(h.handlerID)
	h.client.Disconnect()
	if err := h.db.Close(); err != nil {
		slog.Warn("whatsapp: close device db", "identity", h.identity, "error", err)
	}
}
