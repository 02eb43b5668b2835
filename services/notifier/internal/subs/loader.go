// Package subs loads bootstrap subscriptions from a YAML file and keeps
// them in sync with the store while the file changes.
package subs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/store"
)

// File is the root of the bootstrap YAML document.
type File struct {
	Subscriptions []Entry `yaml:"subscriptions"`
}

// Entry is one subscription in the bootstrap file. IDs are assigned on
// load; the file identifies subscriptions by name.
type Entry struct {
	Name     string         `yaml:"name"`
	Status   string         `yaml:"status"`
	Filters  model.Filters  `yaml:"filters"`
	Channels []ChannelEntry `yaml:"channels"`
}

type ChannelEntry struct {
	Type    string              `yaml:"type"`
	Enabled *bool               `yaml:"enabled"`
	Config  model.ChannelConfig `yaml:"config"`
}

var channelTypes = map[model.ChannelType]struct{}{
	model.ChannelWebhook:  {},
	model.ChannelDiscord:  {},
	model.ChannelSlack:    {},
	model.ChannelTeams:    {},
	model.ChannelTelegram: {},
	model.ChannelEmail:    {},
}

// Loader reads the bootstrap file into the subscription store.
type Loader struct {
	path    string
	storage store.SubscriptionStorage
	logger  *slog.Logger
}

func NewLoader(path string, storage store.SubscriptionStorage, logger *slog.Logger) *Loader {
	return &Loader{
		path:    path,
		storage: storage,
		logger:  logger.With("component", "subsLoader"),
	}
}

// Load parses the file and upserts every subscription it declares. A
// malformed file is rejected whole; the store keeps its previous state.
func (l *Loader) Load(ctx context.Context) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read subscriptions file: %w", err)
	}

	subs, err := Parse(data)
	if err != nil {
		return err
	}

	for i := range subs {
		if err := l.storage.UpsertSubscription(ctx, &subs[i]); err != nil {
			return fmt.Errorf("failed to store subscription %q: %w", subs[i].Name, err)
		}
	}
	l.logger.Info("Subscriptions loaded",
		slog.String("file", l.path),
		slog.Int("count", len(subs)))
	return nil
}

// Parse decodes and validates the bootstrap document.
func Parse(data []byte) ([]model.Subscription, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed subscriptions file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Subscriptions))
	subs := make([]model.Subscription, 0, len(file.Subscriptions))
	for _, entry := range file.Subscriptions {
		sub, err := entry.toModel()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[sub.Name]; dup {
			return nil, fmt.Errorf("duplicate subscription name %q", sub.Name)
		}
		seen[sub.Name] = struct{}{}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (e Entry) toModel() (model.Subscription, error) {
	if e.Name == "" {
		return model.Subscription{}, fmt.Errorf("subscription without a name")
	}

	status := model.SubscriptionStatus(e.Status)
	switch status {
	case "":
		status = model.SubscriptionActive
	case model.SubscriptionActive, model.SubscriptionPaused:
	default:
		return model.Subscription{}, fmt.Errorf("subscription %q has unknown status %q", e.Name, e.Status)
	}

	if len(e.Channels) == 0 {
		return model.Subscription{}, fmt.Errorf("subscription %q has no channels", e.Name)
	}

	sub := model.Subscription{
		ID:      uuid.New().String(),
		Name:    e.Name,
		Status:  status,
		Filters: e.Filters,
	}
	for _, ce := range e.Channels {
		ch, err := ce.toModel(e.Name)
		if err != nil {
			return model.Subscription{}, err
		}
		sub.Channels = append(sub.Channels, ch)
	}
	return sub, nil
}

func (e ChannelEntry) toModel(subName string) (model.Channel, error) {
	chType := model.ChannelType(e.Type)
	if _, ok := channelTypes[chType]; !ok {
		return model.Channel{}, fmt.Errorf("subscription %q has unknown channel type %q", subName, e.Type)
	}

	switch chType {
	case model.ChannelWebhook, model.ChannelDiscord, model.ChannelSlack, model.ChannelTeams:
		if e.Config.URL == "" {
			return model.Channel{}, fmt.Errorf("subscription %q: %s channel needs a url", subName, e.Type)
		}
	case model.ChannelTelegram:
		if e.Config.BotToken == "" || e.Config.ChatID == "" {
			return model.Channel{}, fmt.Errorf("subscription %q: telegram channel needs bot_token and chat_id", subName)
		}
	case model.ChannelEmail:
		if e.Config.Address == "" {
			return model.Channel{}, fmt.Errorf("subscription %q: email channel needs an address", subName)
		}
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return model.Channel{
		ID:      uuid.New().String(),
		Type:    chType,
		Config:  e.Config,
		Enabled: enabled,
	}, nil
}

// Watch reloads the file whenever it changes, until the context is
// cancelled. The parent directory is watched because editors and config
// mounts typically replace the file instead of writing it in place.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// debounce timer absorbs the event bursts a single save produces
	var pending *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := l.Load(ctx); err != nil {
				l.logger.Error("Subscription reload failed", slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("File watcher error", slog.Any("error", err))
		}
	}
}
