package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DriverConfig configures the CANopen driver.
type DriverConfig struct {
	// NodeIDs maps actuator index to CANopen node. Empty means discover the
	// bus and assign nodes in ascending order.
	NodeIDs []uint8

	// RetractedLengthMM is the leg length at zero stroke; it is subtracted
	// from leg-length targets to obtain the actuator position.
	RetractedLengthMM float64

	CurrentLimitA float64
	SpeedPct      float64
	ScanTimeout   time.Duration
	// NMTInterval spaces the per-node start commands.
	NMTInterval time.Duration
}

// DefaultDriverConfig returns the Electrak HD settings used on the rig.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		RetractedLengthMM: 597.06,
		CurrentLimitA:     12.5,
		SpeedPct:          80,
		ScanTimeout:       5 * time.Second,
		NMTInterval:       100 * time.Millisecond,
	}
}

// Driver implements Bus for Electrak HD actuators on a CANopen network.
type Driver struct {
	t      Transport
	cfg    DriverConfig
	logger *slog.Logger

	mu       sync.Mutex
	nodes    []uint8
	feedback map[uint8]chan Feedback
	probes   chan uint8

	done chan struct{}
}

// NewDriver starts dispatching frames from t.
func NewDriver(t Transport, cfg DriverConfig, logger *slog.Logger) *Driver {
	d := &Driver{
		t:        t,
		cfg:      cfg,
		logger:   logger,
		nodes:    slices.Clone(cfg.NodeIDs),
		feedback: make(map[uint8]chan Feedback),
		probes:   make(chan uint8, maxNodeID),
		done:     make(chan struct{}),
	}
	go d.dispatch()
	return d
}

// dispatch routes feedback and probe replies from the transport.
func (d *Driver) dispatch() {
	defer close(d.done)
	for f := range d.t.Frames() {
		if node, fb, ok := DecodeFeedback(f); ok {
			fb.Time = time.Now()
			ch := d.feedbackChan(node)
			// Keep only the newest report.
			select {
			case <-ch:
			default:
			}
			ch <- fb
			continue
		}
		if node, ok := ProbeReply(f); ok {
			select {
			case d.probes <- node:
			default:
			}
		}
	}
}

func (d *Driver) feedbackChan(node uint8) chan Feedback {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.feedback[node]
	if !ok {
		ch = make(chan Feedback, 1)
		d.feedback[node] = ch
	}
	return ch
}

// Discover probes every node ID and returns the responders in ascending
// order.
func (d *Driver) Discover(ctx context.Context) ([]uint8, error) {
	d.logger.Info("scanning for CANopen nodes", "component", "actuator", "timeout_ms", d.cfg.ScanTimeout.Milliseconds())

	for id := uint8(1); id <= maxNodeID; id++ {
		if err := d.t.WriteFrame(ProbeFrame(id)); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ScanTimeout)
	defer cancel()

	seen := make(map[uint8]bool)
	for {
		select {
		case id := <-d.probes:
			seen[id] = true
		case <-ctx.Done():
			found := make([]uint8, 0, len(seen))
			for id := range seen {
				found = append(found, id)
			}
			slices.Sort(found)
			d.logger.Info("CANopen scan complete", "component", "actuator", "nodes", found)
			return found, nil
		}
	}
}

// Ready assigns nodes, discovering them when none are configured, and
// starts them.
func (d *Driver) Ready(ctx context.Context) error {
	d.mu.Lock()
	nodes := slices.Clone(d.nodes)
	d.mu.Unlock()

	if len(nodes) == 0 {
		found, err := d.Discover(ctx)
		if err != nil {
			return err
		}
		nodes = found
	}
	if len(nodes) < Count {
		return fmt.Errorf("%w: found %d actuator nodes, need %d", ErrBus, len(nodes), Count)
	}
	nodes = nodes[:Count]

	d.mu.Lock()
	d.nodes = nodes
	d.mu.Unlock()

	return d.SetOperational(ctx)
}

// SetOperational sends NMT start to every assigned node.
func (d *Driver) SetOperational(ctx context.Context) error {
	for i, node := range d.assigned() {
		if err := d.t.WriteFrame(NMTStartFrame(node)); err != nil {
			return err
		}
		d.logger.Info("node operational", "component", "actuator", "actuator", i, "node", node)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: starting nodes: %v", ErrBus, ctx.Err())
		case <-time.After(d.cfg.NMTInterval):
		}
	}
	return nil
}

func (d *Driver) assigned() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.nodes)
}

func (d *Driver) node(index int) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.nodes) {
		return 0, fmt.Errorf("%w: no node assigned to actuator %d", ErrBus, index)
	}
	return d.nodes[index], nil
}

// SendTarget commands actuator index to a leg length in millimetres.
func (d *Driver) SendTarget(_ context.Context, index int, lengthMM float64) error {
	node, err := d.node(index)
	if err != nil {
		return err
	}
	f := EncodeCommand(node, Command{
		PositionMM: lengthMM - d.cfg.RetractedLengthMM,
		CurrentA:   d.cfg.CurrentLimitA,
		SpeedPct:   d.cfg.SpeedPct,
		Profile:    profileDefault,
		Enable:     true,
	})
	if err := d.t.WriteFrame(f); err != nil {
		return fmt.Errorf("actuator %d (node %d): %w", index, node, err)
	}
	return nil
}

// ReadFeedback waits for the next TPDO1 report of actuator index. The
// reported position is converted back to a leg length.
func (d *Driver) ReadFeedback(ctx context.Context, index int) (Feedback, error) {
	node, err := d.node(index)
	if err != nil {
		return Feedback{}, err
	}
	select {
	case fb := <-d.feedbackChan(node):
		fb.PositionMM += d.cfg.RetractedLengthMM
		return fb, nil
	case <-ctx.Done():
		return Feedback{}, fmt.Errorf("%w: actuator %d (node %d) feedback: %v", ErrBus, index, node, ctx.Err())
	}
}

// Close releases the transport.
func (d *Driver) Close() error {
	err := d.t.Close()
	<-d.done
	return err
}
