package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type created struct {
	SiteID string `json:"site_id"`
}

func (c created) Attributes() map[string]string {
	return map[string]string{"site_id": c.SiteID}
}

func TestNewMessageCarriesAttributes(t *testing.T) {
	t.Parallel()

	msg, err := newMessage("blueprint.created", created{SiteID: "s1"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"event": "blueprint.created", "site_id": "s1"}, msg.Attributes)

	var decoded created
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, "s1", decoded.SiteID)
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := newMessage("x", make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "x", "payload")
	require.Error(t, err)
}
