package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/partd/internal/codec"

	"github.com/codewandler/partd/core/partition"
)

// responseFrame mirrors the wire shape a node-side handler replies with:
// either Data (decoded with the configured Serializer) or Err.
type responseFrame struct {
	Data []byte `json:"data,omitempty"`
	Err  string `json:"err,omitempty"`
}

// TransportConfig configures a Transport.
type TransportConfig[R any] struct {
	Connect       Connector             // Connect builds the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger          // Log for diagnostics (optional)
	SubjectPrefix string                // SubjectPrefix for per-node subjects, e.g. "partd" -> partd.<node>
	Serializer    partition.Serializer[R] // Serializer decodes a sub-request's response bytes. Defaults to JSON.
	Timeout       time.Duration         // Timeout bounds a single NATS request/reply round trip. Default 10s.
}

// Transport delivers partition.PartitionedRequest sub-requests over NATS
// request-reply, one subject per node, addressed by Node.Addr (falling
// back to Node.ID when Addr is empty). It implements
// partition.Transport[ID, R].
type Transport[ID comparable, R any] struct {
	nc         *natsgo.Conn
	closeNc    closeFunc
	log        *slog.Logger
	prefix     string
	serializer partition.Serializer[R]
	timeout    time.Duration
}

// NewTransport connects (or reuses a connection from cfg.Connect) and
// returns a ready Transport.
func NewTransport[ID comparable, R any](cfg TransportConfig[R]) (*Transport[ID, R], error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ser := cfg.Serializer
	if ser == nil {
		ser = codec.JSON[R]{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	return &Transport[ID, R]{
		nc:         nc,
		closeNc:    closeNc,
		log:        log.With(slog.String("transport", "nats")),
		prefix:     cfg.SubjectPrefix,
		serializer: ser,
		timeout:    timeout,
	}, nil
}

// subject returns the subject a sub-request addressed to node is
// published on.
func (t *Transport[ID, R]) subject(node partition.Node) string {
	p := t.prefix
	if p == "" {
		p = "partd"
	}
	addr := node.Addr
	if addr == "" {
		addr = node.ID
	}
	return p + "." + addr
}

// DoSendRequest implements partition.Transport: it marshals req.Payload
// as JSON, runs a NATS request/reply round trip against the target
// node's subject on its own goroutine, decodes the response with the
// configured Serializer, and invokes req.Complete exactly once.
func (t *Transport[ID, R]) DoSendRequest(req *partition.PartitionedRequest[ID, R]) error {
	payload, err := json.Marshal(req.Payload())
	if err != nil {
		return fmt.Errorf("nats: encode payload: %w", err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		msg, err := t.nc.RequestWithContext(ctx, t.subject(req.Node()), payload)
		if err != nil {
			req.Complete(partition.FailureResult[R](fmt.Errorf("nats: request to %s: %w", req.Node(), err)))
			return
		}

		var rf responseFrame
		if err := json.Unmarshal(msg.Data, &rf); err != nil {
			req.Complete(partition.FailureResult[R](fmt.Errorf("nats: decode response frame: %w", err)))
			return
		}
		if rf.Err != "" {
			req.Complete(partition.FailureResult[R](errors.New(rf.Err)))
			return
		}

		var resp R
		if err := t.serializer.Unmarshal(rf.Data, &resp); err != nil {
			req.Complete(partition.FailureResult[R](fmt.Errorf("nats: decode response payload: %w", err)))
			return
		}
		req.Complete(partition.SuccessResult[R](resp))
	}()

	return nil
}

// Close drains and closes the underlying NATS connection.
func (t *Transport[ID, R]) Close() error {
	t.nc.Drain()
	t.closeNc()
	return nil
}

var _ partition.Transport[string, any] = (*Transport[string, any])(nil)
