package sparkplug

import (
	"errors"
	"testing"
)

func TestClient_PublishAfterClose(t *testing.T) {
	c := &Client{events: make(chan Event, 1)}
	c.closed = true

	err := c.Publish("spBv1.0/plant1/NDATA/edge1", &Payload{})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after close error = %v, want ErrClosed", err)
	}
}

func TestClient_CloseTwice(t *testing.T) {
	c := &Client{events: make(chan Event, 4)}
	c.closed = true

	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
}
