package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SecurityMode    string `yaml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy"`
	ApplicationName string `yaml:"application_name"`

	// Namespace is used for PV names that are not NodeIDs themselves.
	Namespace      uint16        `yaml:"namespace"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "pvsnap"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

var (
	_ ports.Connector = (*Connector)(nil)
	_ ports.Session   = (*session)(nil)
	_ ports.Channel   = (*channel)(nil)
)

// Connector maps PVs onto the Value attribute of OPC UA nodes. Each
// session owns its own client.
type Connector struct {
	cfg Config
}

func NewConnector(cfg Config) (*Connector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg}, nil
}

// Open returns a session that dials on first use. A failed dial is
// reported by every Connect on that session, so an unreachable server
// shows up as per-PV failures.
func (c *Connector) Open(ctx context.Context) (ports.Session, error) {
	opts, err := c.buildClientOptions()
	if err != nil {
		return nil, err
	}
	client, err := opcua.NewClient(c.cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	return &session{cfg: c.cfg, client: client}, nil
}

func (c *Connector) buildClientOptions() ([]opcua.Option, error) {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.RequestTimeout(c.cfg.RequestTimeout),
		opcua.AutoReconnect(false),
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	return opts, nil
}

type session struct {
	cfg    Config
	client *opcua.Client

	mu      sync.Mutex
	dialed  bool
	dialErr error
	closed  bool
}

func (s *session) dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("opcua session closed")
	}
	if !s.dialed {
		s.dialed = true
		if err := s.client.Connect(ctx); err != nil {
			s.dialErr = fmt.Errorf("opcua connect %s: %w", s.cfg.Endpoint, err)
		}
	}
	return s.dialErr
}

func (s *session) Connect(ctx context.Context, name domain.PvName) (ports.Channel, error) {
	if err := s.dial(ctx); err != nil {
		return nil, &domain.PVError{PV: name, Op: "connect", Err: err}
	}

	nodeID, err := resolveNodeID(name, s.cfg.Namespace)
	if err != nil {
		return nil, &domain.PVError{PV: name, Op: "connect", Err: err}
	}

	// a successful read of the value attribute is what "connected" means
	// here; it also tells us the type to convert writes to
	dv, err := s.readValue(ctx, nodeID)
	if err != nil {
		return nil, &domain.PVError{PV: name, Op: "connect", Err: err}
	}

	ch := &channel{session: s, name: name, nodeID: nodeID, connected: true}
	if dv.Value != nil {
		ch.typeID = dv.Value.Type()
		ch.array = isSlice(dv.Value.Value())
	}
	return ch, nil
}

func (s *session) readValue(ctx context.Context, nodeID *ua.NodeID) (*ua.DataValue, error) {
	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
	}
	resp, err := s.client.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Results) == 0 {
		return nil, fmt.Errorf("read %s: empty result", nodeID)
	}
	dv := resp.Results[0]
	if dv.Status != ua.StatusOK {
		return nil, fmt.Errorf("read %s: %w", nodeID, dv.Status)
	}
	return dv, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dialed := s.dialed && s.dialErr == nil
	s.mu.Unlock()

	if !dialed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type channel struct {
	session *session
	name    domain.PvName
	nodeID  *ua.NodeID
	typeID  ua.TypeID
	array   bool

	mu        sync.Mutex
	connected bool
}

func (c *channel) Name() domain.PvName { return c.name }

func (c *channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *channel) Read(ctx context.Context) (domain.Value, error) {
	if !c.IsConnected() {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: domain.ErrNotConnected}
	}
	dv, err := c.session.readValue(ctx, c.nodeID)
	if err != nil {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: err}
	}
	v, err := FromVariant(dv.Value)
	if err != nil {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: err}
	}
	return v, nil
}

func (c *channel) Write(ctx context.Context, v domain.Value) error {
	if !c.IsConnected() {
		return &domain.PVError{PV: c.name, Op: "write", Err: domain.ErrNotConnected}
	}
	variant, err := ToVariant(v, c.typeID, c.array)
	if err != nil {
		return &domain.PVError{PV: c.name, Op: "write", Err: err}
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      c.nodeID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}
	resp, err := c.session.client.Write(ctx, req)
	if err != nil {
		return &domain.PVError{PV: c.name, Op: "write", Err: err}
	}
	if resp == nil || len(resp.Results) == 0 {
		return &domain.PVError{PV: c.name, Op: "write", Err: errors.New("empty result")}
	}
	if status := resp.Results[0]; status != ua.StatusOK {
		if status == ua.StatusBadTypeMismatch {
			return &domain.PVError{PV: c.name, Op: "write", Err: fmt.Errorf("%w: %s", domain.ErrTypeMismatch, status)}
		}
		return &domain.PVError{PV: c.name, Op: "write", Err: status}
	}
	return nil
}

func (c *channel) Release() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// resolveNodeID accepts full NodeIDs ("ns=2;s=Pump.Speed", "i=2258") and
// treats anything else as a string identifier in the default namespace.
func resolveNodeID(name domain.PvName, namespace uint16) (*ua.NodeID, error) {
	if looksLikeNodeID(name) {
		id, err := ua.ParseNodeID(name)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", name, err)
		}
		return id, nil
	}
	return ua.NewStringNodeID(namespace, name), nil
}

func looksLikeNodeID(name string) bool {
	for _, prefix := range []string{"ns=", "i=", "s=", "g=", "b="} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
