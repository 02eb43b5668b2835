package subs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

const validFile = `
subscriptions:
  - name: core-servers
    filters:
      namespaces: ["acme/*"]
      change_types: ["new", "removed"]
    channels:
      - type: webhook
        config:
          url: https://example.com/hook
          secret: s3cret
      - type: email
        enabled: false
        config:
          address: ops@example.com
          digest: daily
  - name: everything
    status: paused
    channels:
      - type: slack
        config:
          url: https://hooks.slack.com/services/T/B/x
`

func TestParseValidFile(t *testing.T) {
	subs, err := Parse([]byte(validFile))
	require.NoError(t, err)
	require.Len(t, subs, 2)

	core := subs[0]
	assert.Equal(t, "core-servers", core.Name)
	assert.Equal(t, model.SubscriptionActive, core.Status, "status defaults to active")
	assert.Equal(t, []string{"acme/*"}, core.Filters.Namespaces)
	assert.Equal(t, []string{"new", "removed"}, core.Filters.ChangeTypes)
	require.Len(t, core.Channels, 2)
	assert.NotEmpty(t, core.ID)

	webhook := core.Channels[0]
	assert.Equal(t, model.ChannelWebhook, webhook.Type)
	assert.True(t, webhook.Enabled, "enabled defaults to true")
	assert.Equal(t, "https://example.com/hook", webhook.Config.URL)
	assert.Equal(t, "s3cret", webhook.Config.Secret)

	email := core.Channels[1]
	assert.Equal(t, model.ChannelEmail, email.Type)
	assert.False(t, email.Enabled)
	assert.Equal(t, model.DigestDaily, email.Config.Digest)

	assert.Equal(t, model.SubscriptionPaused, subs[1].Status)
}

func TestParseRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing subscription name",
			yaml: `
subscriptions:
  - channels:
      - type: webhook
        config: {url: "https://x"}
`,
		},
		{
			name: "duplicate names",
			yaml: `
subscriptions:
  - name: a
    channels: [{type: webhook, config: {url: "https://x"}}]
  - name: a
    channels: [{type: webhook, config: {url: "https://y"}}]
`,
		},
		{
			name: "unknown status",
			yaml: `
subscriptions:
  - name: a
    status: dormant
    channels: [{type: webhook, config: {url: "https://x"}}]
`,
		},
		{
			name: "no channels",
			yaml: `
subscriptions:
  - name: a
`,
		},
		{
			name: "unknown channel type",
			yaml: `
subscriptions:
  - name: a
    channels: [{type: pager, config: {url: "https://x"}}]
`,
		},
		{
			name: "webhook without url",
			yaml: `
subscriptions:
  - name: a
    channels: [{type: webhook}]
`,
		},
		{
			name: "telegram without chat id",
			yaml: `
subscriptions:
  - name: a
    channels: [{type: telegram, config: {bot_token: "t"}}]
`,
		},
		{
			name: "email without address",
			yaml: `
subscriptions:
  - name: a
    channels: [{type: email}]
`,
		},
		{
			name: "not yaml",
			yaml: `{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
