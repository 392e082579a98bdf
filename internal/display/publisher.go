package display

import (
	"sync/atomic"

	"codeberg.org/mutker/daqlog/internal/errors"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/sample"
	"github.com/goccy/go-json"
	zmq "github.com/pebbe/zmq4"
)

// Topic is the first frame of every published message.
const Topic = "daqlog.points"

// Frame is the JSON payload of a published message.
type Frame struct {
	Run    string         `json:"run"`
	Seq    uint64         `json:"seq"`
	Points []sample.Point `json:"points"`
}

type publisher struct {
	sock     *zmq.Socket
	endpoint string
	runID    string
	seq      uint64
	dropped  atomic.Uint64
	log      logger.Logger
}

// NewPublisher binds a PUB socket on endpoint, e.g. "tcp://*:5556". Each
// render is sent as two frames, Topic and a JSON Frame. Sends never block:
// with no subscriber or a full queue the frame is dropped.
func NewPublisher(endpoint, runID string) (Renderer, error) {
	errFactory := errors.New()

	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errFactory.Wrap(ErrPublisherInit, err)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, errFactory.Wrap(ErrPublisherInit, err)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, errFactory.Wrap(ErrPublisherInit, err).WithData(endpoint)
	}

	log := logger.WithComponent("display")
	log.Info().Str("endpoint", endpoint).Msg("Publishing live display frames")

	return &publisher{
		sock:     sock,
		endpoint: endpoint,
		runID:    runID,
		log:      log,
	}, nil
}

func (p *publisher) Render(points []sample.Point) {
	p.seq++
	payload, err := json.Marshal(Frame{Run: p.runID, Seq: p.seq, Points: points})
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to encode display frame")
		return
	}

	if _, err := p.sock.SendMessageDontwait(Topic, payload); err != nil {
		if p.dropped.Add(1) == 1 {
			p.log.Debug().Err(err).Msg("Dropping display frames")
		}
	}
}

func (p *publisher) Close() error {
	if err := p.sock.Close(); err != nil {
		return errors.New().Wrap(ErrPublisherClose, err)
	}
	p.log.Debug().
		Str("endpoint", p.endpoint).
		Uint64("frames", p.seq).
		Uint64("dropped", p.dropped.Load()).
		Msg("Publisher closed")
	return nil
}
