package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// ConnectorType identifies a connector variant.
type ConnectorType string

const (
	ConnectorHTTP       ConnectorType = "http"
	ConnectorSmppClient ConnectorType = "smppc"
	ConnectorSmppServer ConnectorType = "smpps"
)

var (
	cidRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,25}$`)
	urlRegex = regexp.MustCompile(`(?i)^https?://(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+(?:[A-Z]{2,6}\.?|[A-Z0-9-]{2,}\.?)|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?(?:/?|[/?]\S+)$`)
)

// Connector is a routing destination. Implementations are closed to this package.
type Connector interface {
	ID() string
	Type() ConnectorType
	String() string
	connector()
}

// ValidateConnectorID checks a cid against ^[A-Za-z0-9_-]{3,25}$.
func ValidateConnectorID(cid string) error {
	if !cidRegex.MatchString(cid) {
		return fmt.Errorf("%w: cid %q syntax is invalid", ErrInvalidConnector, cid)
	}
	return nil
}

// HttpConnector throws MO messages to an HTTP endpoint.
type HttpConnector struct {
	CID     string
	BaseURL string
	Method  string
}

func NewHttpConnector(cid, baseURL, method string) (*HttpConnector, error) {
	if err := ValidateConnectorID(cid); err != nil {
		return nil, err
	}
	m := strings.ToUpper(method)
	if m != "GET" && m != "POST" {
		return nil, fmt.Errorf("%w: method %q must be GET or POST", ErrInvalidConnector, method)
	}
	if !urlRegex.MatchString(baseURL) {
		return nil, fmt.Errorf("%w: base url %q is not a valid http(s) url", ErrInvalidConnector, baseURL)
	}
	return &HttpConnector{CID: cid, BaseURL: baseURL, Method: m}, nil
}

func (c *HttpConnector) ID() string          { return c.CID }
func (c *HttpConnector) Type() ConnectorType { return ConnectorHTTP }
func (c *HttpConnector) String() string {
	return fmt.Sprintf("%s(%s) %s %s", c.Type(), c.CID, c.Method, c.BaseURL)
}
func (*HttpConnector) connector() {}

// SmppClientConnector refers to an SMPP client session; its configuration lives in smppclient.ClientConfig.
type SmppClientConnector struct {
	CID string
}

func NewSmppClientConnector(cid string) (*SmppClientConnector, error) {
	if err := ValidateConnectorID(cid); err != nil {
		return nil, err
	}
	return &SmppClientConnector{CID: cid}, nil
}

func (c *SmppClientConnector) ID() string          { return c.CID }
func (c *SmppClientConnector) Type() ConnectorType { return ConnectorSmppClient }
func (c *SmppClientConnector) String() string      { return fmt.Sprintf("%s(%s)", c.Type(), c.CID) }
func (*SmppClientConnector) connector()            {}

// SmppServerConnector delivers MO messages to users bound on the SMPP server.
type SmppServerConnector struct {
	CID string
}

func NewSmppServerConnector(cid string) (*SmppServerConnector, error) {
	if err := ValidateConnectorID(cid); err != nil {
		return nil, err
	}
	return &SmppServerConnector{CID: cid}, nil
}

func (c *SmppServerConnector) ID() string          { return c.CID }
func (c *SmppServerConnector) Type() ConnectorType { return ConnectorSmppServer }
func (c *SmppServerConnector) String() string      { return fmt.Sprintf("%s(%s)", c.Type(), c.CID) }
func (*SmppServerConnector) connector()            {}
