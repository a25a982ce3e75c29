package chain

import (
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

type logDecoder interface {
	Decode(log types.Log) (purchase.Event, error)
}

// closer is satisfied by *ethclient.Client.
type closer interface {
	Close()
}

// logStream adapts an ethereum.Subscription of raw logs into a purchase.Stream.
type logStream struct {
	conn    closer
	sub     ethereum.Subscription
	logs    <-chan types.Log
	decoder logDecoder
	logger  *slog.Logger

	events chan purchase.Event
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

func newLogStream(conn closer, sub ethereum.Subscription, logs <-chan types.Log, decoder logDecoder, logger *slog.Logger) *logStream {
	return &logStream{
		conn:    conn,
		sub:     sub,
		logs:    logs,
		decoder: decoder,
		logger:  logger,
		events:  make(chan purchase.Event, 64),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *logStream) Events() <-chan purchase.Event { return s.events }

func (s *logStream) Err() <-chan error { return s.errc }

// Close unsubscribes and closes the underlying connection.
func (s *logStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Unsubscribe()
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *logStream) run() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return

		case err, ok := <-s.sub.Err():
			select {
			case <-s.done:
				return
			default:
			}
			if !ok || err == nil {
				err = io.EOF
			}
			s.errc <- err
			return

		case log := <-s.logs:
			if log.Removed {
				s.logger.Debug("ignoring removed log", "block", log.BlockNumber, "tx", log.TxHash.Hex())
				continue
			}
			ev, err := s.decoder.Decode(log)
			if err != nil {
				metrics.DecodeErrors.Inc()
				s.logger.Warn("dropping undecodable log",
					"block", log.BlockNumber,
					"tx", log.TxHash.Hex(),
					"error", err,
				)
				continue
			}

			select {
			case s.events <- ev.WithSource(purchase.SourcePush):
			case <-s.done:
				return
			}
		}
	}
}
