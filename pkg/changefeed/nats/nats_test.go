package nats

import (
	"context"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"github.com/edgeflare/radmin/pkg/changefeed"
)

func TestConfigDefaultsAndSubject(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, []string{natsgo.DefaultURL}, cfg.Servers)
	assert.Equal(t, "radmin", cfg.SubjectPrefix)
	assert.Equal(t, "radmin-changes", cfg.Stream)

	e := changefeed.NewEvent(changefeed.OperationUpdate, "shop", "order", 1, time.Now())
	assert.Equal(t, "radmin.shop.order.u", cfg.Subject(e))
}

func TestStreamConfigEqual(t *testing.T) {
	a := natsgo.StreamConfig{Name: "s", Subjects: []string{"radmin.>"}, Storage: natsgo.FileStorage, Replicas: 1}
	b := a
	assert.True(t, streamConfigEqual(a, b))
	b.Subjects = []string{"other.>"}
	assert.False(t, streamConfigEqual(a, b))
}

func TestDefaultOptions(t *testing.T) {
	var cfg Config
	assert.Len(t, defaultOptions(cfg), 6)
	cfg.Username, cfg.Password = "u", "p"
	cfg.TLS.Enabled = true
	cfg.TLS.CAFile = "/ca.pem"
	assert.Len(t, defaultOptions(cfg), 8)
}

func TestPublishNotConnected(t *testing.T) {
	c := &Connector{}
	assert.ErrorIs(t, c.Publish(context.Background(), changefeed.Event{}), changefeed.ErrNotConnected)
}
