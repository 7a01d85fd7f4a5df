package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"airwatch/config"
	"airwatch/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	firebaseCommandPoll  = 3 * time.Second
	firebaseWriteTimeout = 5 * time.Second
)

// shadowStore is the slice of the realtime database the service uses.
type shadowStore interface {
	Get(ctx context.Context, path string, v interface{}) error
	Set(ctx context.Context, path string, v interface{}) error
	Delete(ctx context.Context, path string) error
}

type rtdbStore struct {
	client *db.Client
}

func (s rtdbStore) Get(ctx context.Context, path string, v interface{}) error {
	return s.client.NewRef(path).Get(ctx, v)
}

func (s rtdbStore) Set(ctx context.Context, path string, v interface{}) error {
	return s.client.NewRef(path).Set(ctx, v)
}

func (s rtdbStore) Delete(ctx context.Context, path string) error {
	return s.client.NewRef(path).Delete(ctx)
}

// NewRealtimeDatabase builds a realtime database client from the service
// account credentials in cfg.
func NewRealtimeDatabase(ctx context.Context, cfg *config.Config) (*db.Client, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}
	return client, nil
}

// ShadowPath maps a dotted topic to the device's node in the database,
// e.g. smartpm25.sensor.data -> smartpm25/sensor/data/<device>.
func ShadowPath(topic, deviceID string) string {
	return strings.ReplaceAll(topic, ".", "/") + "/" + deviceID
}

// FirebaseService keeps a device shadow in the realtime database: each
// publish overwrites the node for its topic. Commands are pushed under the
// command topic's node and deleted once delivered.
type FirebaseService struct {
	config       *config.Config
	store        shadowStore
	logger       *zap.Logger
	inbox        *inbox
	pollInterval time.Duration

	handler   MessageHandler
	connected atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFirebaseService(cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	client, err := NewRealtimeDatabase(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return newFirebaseService(cfg, rtdbStore{client: client}, logger), nil
}

func newFirebaseService(cfg *config.Config, store shadowStore, logger *zap.Logger) *FirebaseService {
	return &FirebaseService{
		config:       cfg,
		store:        store,
		logger:       logger,
		inbox:        newInbox(),
		pollInterval: firebaseCommandPoll,
	}
}

// Start checks connectivity, marks the device online and starts the command
// poller. The poller runs even when the check fails.
func (fs *FirebaseService) Start() error {
	err := fs.testConnection()
	if err == nil {
		fs.writeStatus(models.StatusOnline)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fs.cancel = cancel
	fs.wg.Add(1)
	go fs.pollLoop(ctx)

	return err
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection() error {
	maxRetries := 3
	path := ShadowPath(fs.config.TopicStatus, fs.config.DeviceID)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		ctx, cancel := context.WithTimeout(context.Background(), firebaseWriteTimeout)
		var data interface{}
		err := fs.store.Get(ctx, path, &data)
		cancel()

		if err == nil {
			fs.logger.Info("Firebase connection successful")
			fs.connected.Store(true)
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fs *FirebaseService) writeStatus(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), firebaseWriteTimeout)
	defer cancel()

	path := ShadowPath(fs.config.TopicStatus, fs.config.DeviceID)
	if err := fs.store.Set(ctx, path, models.DeviceStatus{DeviceID: fs.config.DeviceID, Status: status}); err != nil {
		fs.logger.Warn("Failed to write device status", zap.String("status", status), zap.Error(err))
	}
}

func (fs *FirebaseService) pollLoop(ctx context.Context) {
	defer fs.wg.Done()
	defer fs.logger.Info("Firebase command polling stopped")

	ticker := time.NewTicker(fs.pollInterval)
	defer ticker.Stop()

	fs.logger.Info("Starting Firebase command polling",
		zap.String("path", ShadowPath(fs.config.TopicCommands, fs.config.DeviceID)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fs.pollCommands(ctx)
		}
	}
}

// pollCommands moves pending commands into the inbox in key order and
// removes them from the database.
func (fs *FirebaseService) pollCommands(ctx context.Context) {
	path := ShadowPath(fs.config.TopicCommands, fs.config.DeviceID)

	var pending map[string]json.RawMessage
	if err := fs.store.Get(ctx, path, &pending); err != nil {
		fs.connected.Store(false)
		fs.logger.Error("Error getting commands", zap.Error(err))
		return
	}
	fs.connected.Store(true)
	if len(pending) == 0 {
		return
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !fs.inbox.push(fs.config.TopicCommands, pending[key]) {
			fs.logger.Warn("Command queue full, leaving command for the next poll", zap.String("key", key))
			return
		}
		if err := fs.store.Delete(ctx, path+"/"+key); err != nil {
			fs.logger.Error("Failed to delete delivered command", zap.String("key", key), zap.Error(err))
		}
	}
	fs.logger.Debug("Fetched commands", zap.Int("count", len(keys)))
}

func (fs *FirebaseService) IsConnected() bool {
	return fs.connected.Load()
}

// Publish overwrites the shadow node for topic with payload.
func (fs *FirebaseService) Publish(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishWait(fs.config))
	defer cancel()

	if err := fs.store.Set(ctx, ShadowPath(topic, fs.config.DeviceID), json.RawMessage(payload)); err != nil {
		fs.connected.Store(false)
		return fmt.Errorf("failed to write shadow for %s: %w", topic, err)
	}
	fs.connected.Store(true)
	return nil
}

func (fs *FirebaseService) Service() {
	fs.inbox.drain(fs.handler)
}

func (fs *FirebaseService) SetMessageHandler(handler MessageHandler) {
	fs.handler = handler
}

// Close stops polling and marks the device offline.
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	if fs.cancel != nil {
		fs.cancel()
		fs.wg.Wait()
	}
	fs.writeStatus(models.StatusOffline)
	return nil
}
