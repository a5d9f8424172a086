package smppclient

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/thrillee/aegisrouter/internal/logging"
)

// ConfigErrorKind tells apart what made a configuration value unacceptable.
type ConfigErrorKind int

const (
	UndefinedID ConfigErrorKind = iota + 1
	InvalidID
	TypeMismatch
	UnknownValue
)

func (k ConfigErrorKind) String() string {
	switch k {
	case UndefinedID:
		return "undefined id"
	case InvalidID:
		return "invalid id"
	case TypeMismatch:
		return "type mismatch"
	case UnknownValue:
		return "unknown value"
	}
	return "config error"
}

// ConfigError is returned by NewClientConfig, Set and Validate.
type ConfigError struct {
	Key    string
	Kind   ConfigErrorKind
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s for %s: %s", e.Kind, e.Key, e.Reason)
}

// IsConfigError reports whether err is a ConfigError of kind.
func IsConfigError(err error, kind ConfigErrorKind) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Kind == kind
}

func cfgErr(key string, kind ConfigErrorKind, format string, args ...any) error {
	return &ConfigError{Key: key, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,25}$`)

// Bind operations.
const (
	BindTransceiver = "transceiver"
	BindTransmitter = "transmitter"
	BindReceiver    = "receiver"
)

var validDataCodings = []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14}

// ClientConfig is the full configuration of one SMPP client connector.
// Nil pointers are parameters left to the SMSC.
type ClientConfig struct {
	ID string `json:"id"`

	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	SystemType string `json:"system_type"`
	UseSSL     bool   `json:"use_ssl"`
	Bind       string `json:"bind"`

	LogFile   string `json:"log_file"`
	LogRotate string `json:"log_rotate"`
	LogLevel  string `json:"log_level"`

	SessionInitTimer time.Duration `json:"session_init_timer"`
	EnquireLinkTimer time.Duration `json:"enquire_link_timer"`
	InactivityTimer  time.Duration `json:"inactivity_timer"`
	ResponseTimer    time.Duration `json:"response_timer"`
	PDUReadTimer     time.Duration `json:"pdu_read_timer"`

	ReconnectOnConnectionLoss         bool          `json:"reconnect_on_connection_loss"`
	ReconnectOnConnectionFailure      bool          `json:"reconnect_on_connection_failure"`
	ReconnectOnConnectionLossDelay    time.Duration `json:"reconnect_on_connection_loss_delay"`
	ReconnectOnConnectionFailureDelay time.Duration `json:"reconnect_on_connection_failure_delay"`

	DLRExpiry     time.Duration `json:"dlr_expiry"`
	DLRMsgIDBases int           `json:"dlr_msg_id_bases"`

	// Bind parameters.
	AddressTON   uint8   `json:"address_ton"`
	AddressNPI   uint8   `json:"address_npi"`
	AddressRange *string `json:"address_range,omitempty"`

	// submit_sm defaults.
	ServiceType          *string `json:"service_type,omitempty"`
	SourceAddrTON        uint8   `json:"source_addr_ton"`
	SourceAddrNPI        uint8   `json:"source_addr_npi"`
	DestAddrTON          uint8   `json:"dest_addr_ton"`
	DestAddrNPI          uint8   `json:"dest_addr_npi"`
	SourceAddr           *string `json:"source_addr,omitempty"`
	EsmClass             uint8   `json:"esm_class"`
	ProtocolID           *uint8  `json:"protocol_id,omitempty"`
	PriorityFlag         uint8   `json:"priority_flag"`
	ScheduleDeliveryTime *string `json:"schedule_delivery_time,omitempty"`
	ValidityPeriod       *string `json:"validity_period,omitempty"`
	RegisteredDelivery   uint8   `json:"registered_delivery"`
	ReplaceIfPresentFlag uint8   `json:"replace_if_present_flag"`
	SmDefaultMsgID       uint8   `json:"sm_default_msg_id"`
	DataCoding           uint8   `json:"data_coding"`

	// QoS.
	RequeueDelay       time.Duration `json:"requeue_delay"`
	SubmitSmThroughput float64       `json:"submit_sm_throughput"`
}

// NewClientConfig returns a configuration with every default set.
func NewClientConfig(id string) (*ClientConfig, error) {
	if id == "" {
		return nil, cfgErr("id", UndefinedID, "connector must have an id")
	}
	if !idRegex.MatchString(id) {
		return nil, cfgErr("id", InvalidID, "%q syntax is invalid", id)
	}
	return &ClientConfig{
		ID:        id,
		Host:      "127.0.0.1",
		Port:      2775,
		Username:  "smppclient",
		Password:  "password",
		Bind:      BindTransceiver,
		LogRotate: "midnight",
		LogLevel:  "info",

		SessionInitTimer: 30 * time.Second,
		EnquireLinkTimer: 30 * time.Second,
		InactivityTimer:  300 * time.Second,
		ResponseTimer:    120 * time.Second,
		PDUReadTimer:     10 * time.Second,

		ReconnectOnConnectionLoss:         true,
		ReconnectOnConnectionFailure:      true,
		ReconnectOnConnectionLossDelay:    10 * time.Second,
		ReconnectOnConnectionFailureDelay: 10 * time.Second,

		DLRExpiry: 86400 * time.Second,

		SourceAddrTON:      TONNational,
		SourceAddrNPI:      NPIISDN,
		DestAddrTON:        TONInternational,
		DestAddrNPI:        NPIISDN,
		EsmClass:           0x03, // store and forward
		RequeueDelay:       120 * time.Second,
		SubmitSmThroughput: 1,
	}, nil
}

// Clone returns a deep copy.
func (c *ClientConfig) Clone() *ClientConfig {
	cp := *c
	cp.AddressRange = cloneStr(c.AddressRange)
	cp.ServiceType = cloneStr(c.ServiceType)
	cp.SourceAddr = cloneStr(c.SourceAddr)
	cp.ScheduleDeliveryTime = cloneStr(c.ScheduleDeliveryTime)
	cp.ValidityPeriod = cloneStr(c.ValidityPeriod)
	if c.ProtocolID != nil {
		v := *c.ProtocolID
		cp.ProtocolID = &v
	}
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Validate checks every field. Set already validates what it writes.
func (c *ClientConfig) Validate() error {
	if c.ID == "" {
		return cfgErr("id", UndefinedID, "connector must have an id")
	}
	if !idRegex.MatchString(c.ID) {
		return cfgErr("id", InvalidID, "%q syntax is invalid", c.ID)
	}
	if c.Host == "" {
		return cfgErr(string(KeyHost), TypeMismatch, "host must be a non empty string")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return cfgErr(string(KeyPort), UnknownValue, "port %d out of range", c.Port)
	}
	if len(c.Username) > 15 {
		return cfgErr(string(KeyUsername), TypeMismatch, "username is longer than allowed size (15)")
	}
	if len(c.Password) > 8 {
		return cfgErr(string(KeyPassword), TypeMismatch, "password is longer than allowed size (8)")
	}
	if c.Bind != BindTransceiver && c.Bind != BindTransmitter && c.Bind != BindReceiver {
		return cfgErr(string(KeyBind), UnknownValue, "invalid bind operation %q", c.Bind)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return cfgErr(string(KeyLogLevel), UnknownValue, "invalid log level %q", c.LogLevel)
	}
	if _, err := logging.RotationPeriod(c.LogRotate); err != nil {
		return cfgErr(string(KeyLogRotate), UnknownValue, "%v", err)
	}
	if !slices.Contains(validDataCodings, c.DataCoding) {
		return cfgErr(string(KeyDataCoding), UnknownValue, "invalid data_coding %d", c.DataCoding)
	}
	if c.DLRMsgIDBases < 0 || c.DLRMsgIDBases > 2 {
		return cfgErr(string(KeyDLRMsgIDBases), UnknownValue, "invalid dlr_msg_id_bases %d", c.DLRMsgIDBases)
	}
	if c.PriorityFlag > 3 {
		return cfgErr(string(KeyPriorityFlag), UnknownValue, "invalid priority_flag %d", c.PriorityFlag)
	}
	if c.ReplaceIfPresentFlag > 1 {
		return cfgErr(string(KeyReplaceIfPresentFlag), UnknownValue, "invalid replace_if_present_flag %d", c.ReplaceIfPresentFlag)
	}
	if c.SubmitSmThroughput < 0 {
		return cfgErr(string(KeySubmitSmThroughput), TypeMismatch, "submit_sm_throughput must be positive or zero")
	}
	for key, d := range map[ConfigKey]time.Duration{
		KeySessionInitTimer: c.SessionInitTimer, KeyEnquireLinkTimer: c.EnquireLinkTimer,
		KeyInactivityTimer: c.InactivityTimer, KeyResponseTimer: c.ResponseTimer,
		KeyPDUReadTimer: c.PDUReadTimer, KeyRequeueDelay: c.RequeueDelay, KeyDLRExpiry: c.DLRExpiry,
		KeyReconnectOnLossDelay: c.ReconnectOnConnectionLossDelay, KeyReconnectOnFailureDelay: c.ReconnectOnConnectionFailureDelay,
	} {
		if d < 0 {
			return cfgErr(string(key), TypeMismatch, "must be a positive duration")
		}
	}
	return nil
}

// ============================================================================
// Keys
// ============================================================================

// ConfigKey names a settable configuration field.
type ConfigKey string

const (
	KeyHost                    ConfigKey = "host"
	KeyPort                    ConfigKey = "port"
	KeyUsername                ConfigKey = "username"
	KeyPassword                ConfigKey = "password"
	KeySystemType              ConfigKey = "system_type"
	KeyUseSSL                  ConfigKey = "use_ssl"
	KeyBind                    ConfigKey = "bind"
	KeyLogFile                 ConfigKey = "log_file"
	KeyLogRotate               ConfigKey = "log_rotate"
	KeyLogLevel                ConfigKey = "log_level"
	KeySessionInitTimer        ConfigKey = "session_init_timer"
	KeyEnquireLinkTimer        ConfigKey = "enquire_link_timer"
	KeyInactivityTimer         ConfigKey = "inactivity_timer"
	KeyResponseTimer           ConfigKey = "response_timer"
	KeyPDUReadTimer            ConfigKey = "pdu_read_timer"
	KeyReconnectOnLoss         ConfigKey = "reconnect_on_connection_loss"
	KeyReconnectOnFailure      ConfigKey = "reconnect_on_connection_failure"
	KeyReconnectOnLossDelay    ConfigKey = "reconnect_on_connection_loss_delay"
	KeyReconnectOnFailureDelay ConfigKey = "reconnect_on_connection_failure_delay"
	KeyDLRExpiry               ConfigKey = "dlr_expiry"
	KeyDLRMsgIDBases           ConfigKey = "dlr_msg_id_bases"
	KeyAddressTON              ConfigKey = "address_ton"
	KeyAddressNPI              ConfigKey = "address_npi"
	KeyAddressRange            ConfigKey = "address_range"
	KeyServiceType             ConfigKey = "service_type"
	KeySourceAddrTON           ConfigKey = "source_addr_ton"
	KeySourceAddrNPI           ConfigKey = "source_addr_npi"
	KeyDestAddrTON             ConfigKey = "dest_addr_ton"
	KeyDestAddrNPI             ConfigKey = "dest_addr_npi"
	KeySourceAddr              ConfigKey = "source_addr"
	KeyEsmClass                ConfigKey = "esm_class"
	KeyProtocolID              ConfigKey = "protocol_id"
	KeyPriorityFlag            ConfigKey = "priority_flag"
	KeyScheduleDeliveryTime    ConfigKey = "schedule_delivery_time"
	KeyValidityPeriod          ConfigKey = "validity_period"
	KeyRegisteredDelivery      ConfigKey = "registered_delivery"
	KeyReplaceIfPresentFlag    ConfigKey = "replace_if_present_flag"
	KeySmDefaultMsgID          ConfigKey = "sm_default_msg_id"
	KeyDataCoding              ConfigKey = "data_coding"
	KeyRequeueDelay            ConfigKey = "requeue_delay"
	KeySubmitSmThroughput      ConfigKey = "submit_sm_throughput"
)

// keyAliases maps the short operator key names to ConfigKey.
var keyAliases = map[string]ConfigKey{
	"systype":           KeySystemType,
	"ssl":               KeyUseSSL,
	"logfile":           KeyLogFile,
	"logrotate":         KeyLogRotate,
	"loglevel":          KeyLogLevel,
	"bind_to":           KeySessionInitTimer,
	"elink_interval":    KeyEnquireLinkTimer,
	"trx_to":            KeyInactivityTimer,
	"res_to":            KeyResponseTimer,
	"pdu_red_to":        KeyPDUReadTimer,
	"con_loss_retry":    KeyReconnectOnLoss,
	"con_fail_retry":    KeyReconnectOnFailure,
	"con_loss_delay":    KeyReconnectOnLossDelay,
	"con_fail_delay":    KeyReconnectOnFailureDelay,
	"dlr_msgid":         KeyDLRMsgIDBases,
	"bind_ton":          KeyAddressTON,
	"bind_npi":          KeyAddressNPI,
	"addr_range":        KeyAddressRange,
	"src_ton":           KeySourceAddrTON,
	"src_npi":           KeySourceAddrNPI,
	"dst_ton":           KeyDestAddrTON,
	"dst_npi":           KeyDestAddrNPI,
	"src_addr":          KeySourceAddr,
	"proto_id":          KeyProtocolID,
	"priority":          KeyPriorityFlag,
	"validity":          KeyValidityPeriod,
	"ripf":              KeyReplaceIfPresentFlag,
	"def_msg_id":        KeySmDefaultMsgID,
	"coding":            KeyDataCoding,
	"submit_throughput": KeySubmitSmThroughput,
}

// restartKeys only take effect on a fresh bind.
var restartKeys = map[ConfigKey]bool{
	KeyHost: true, KeyPort: true, KeyUsername: true, KeyPassword: true, KeySystemType: true,
	KeyUseSSL: true, KeyBind: true, KeyLogFile: true, KeyLogRotate: true, KeyLogLevel: true,
}

// ParseConfigKey resolves a key name or alias.
func ParseConfigKey(name string) (ConfigKey, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := keyAliases[name]; ok {
		return k, nil
	}
	k := ConfigKey(name)
	if _, ok := setters[k]; ok {
		return k, nil
	}
	return "", cfgErr(name, UnknownValue, "unknown configuration key")
}

// RequiresRestart reports whether changing key on a bound connector needs a stop/start cycle.
func RequiresRestart(key ConfigKey) bool { return restartKeys[key] }

type setter func(c *ClientConfig, key, value string) error

var setters map[ConfigKey]setter

func init() {
	setters = map[ConfigKey]setter{
		KeyHost: func(c *ClientConfig, k, v string) error {
			if v == "" {
				return cfgErr(k, TypeMismatch, "host must be a non empty string")
			}
			c.Host = v
			return nil
		},
		KeyPort: func(c *ClientConfig, k, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfgErr(k, TypeMismatch, "port must be an integer")
			}
			if n <= 0 || n > 65535 {
				return cfgErr(k, UnknownValue, "port %d out of range", n)
			}
			c.Port = n
			return nil
		},
		KeyUsername: func(c *ClientConfig, k, v string) error {
			if len(v) > 15 {
				return cfgErr(k, TypeMismatch, "username is longer than allowed size (15)")
			}
			c.Username = v
			return nil
		},
		KeyPassword: func(c *ClientConfig, k, v string) error {
			if len(v) > 8 {
				return cfgErr(k, TypeMismatch, "password is longer than allowed size (8)")
			}
			c.Password = v
			return nil
		},
		KeySystemType: func(c *ClientConfig, _, v string) error { c.SystemType = v; return nil },
		KeyUseSSL:     boolSetter(func(c *ClientConfig) *bool { return &c.UseSSL }),
		KeyBind: func(c *ClientConfig, k, v string) error {
			v = strings.ToLower(v)
			if v != BindTransceiver && v != BindTransmitter && v != BindReceiver {
				return cfgErr(k, UnknownValue, "invalid bind operation %q", v)
			}
			c.Bind = v
			return nil
		},
		KeyLogFile: func(c *ClientConfig, _, v string) error { c.LogFile = v; return nil },
		KeyLogRotate: func(c *ClientConfig, k, v string) error {
			if _, err := logging.RotationPeriod(v); err != nil {
				return cfgErr(k, UnknownValue, "%v", err)
			}
			c.LogRotate = v
			return nil
		},
		KeyLogLevel: func(c *ClientConfig, k, v string) error {
			lvl, ok := parseLogLevel(v)
			if !ok {
				return cfgErr(k, UnknownValue, "invalid log level %q", v)
			}
			c.LogLevel = lvl
			return nil
		},
		KeySessionInitTimer:        durationSetter(func(c *ClientConfig) *time.Duration { return &c.SessionInitTimer }),
		KeyEnquireLinkTimer:        durationSetter(func(c *ClientConfig) *time.Duration { return &c.EnquireLinkTimer }),
		KeyInactivityTimer:         durationSetter(func(c *ClientConfig) *time.Duration { return &c.InactivityTimer }),
		KeyResponseTimer:           durationSetter(func(c *ClientConfig) *time.Duration { return &c.ResponseTimer }),
		KeyPDUReadTimer:            durationSetter(func(c *ClientConfig) *time.Duration { return &c.PDUReadTimer }),
		KeyReconnectOnLoss:         boolSetter(func(c *ClientConfig) *bool { return &c.ReconnectOnConnectionLoss }),
		KeyReconnectOnFailure:      boolSetter(func(c *ClientConfig) *bool { return &c.ReconnectOnConnectionFailure }),
		KeyReconnectOnLossDelay:    durationSetter(func(c *ClientConfig) *time.Duration { return &c.ReconnectOnConnectionLossDelay }),
		KeyReconnectOnFailureDelay: durationSetter(func(c *ClientConfig) *time.Duration { return &c.ReconnectOnConnectionFailureDelay }),
		KeyDLRExpiry:               durationSetter(func(c *ClientConfig) *time.Duration { return &c.DLRExpiry }),
		KeyRequeueDelay:            durationSetter(func(c *ClientConfig) *time.Duration { return &c.RequeueDelay }),
		KeyDLRMsgIDBases: func(c *ClientConfig, k, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfgErr(k, TypeMismatch, "must be an integer")
			}
			if n < 0 || n > 2 {
				return cfgErr(k, UnknownValue, "invalid dlr_msg_id_bases %d", n)
			}
			c.DLRMsgIDBases = n
			return nil
		},
		KeyAddressTON:           tonSetter(func(c *ClientConfig) *uint8 { return &c.AddressTON }),
		KeyAddressNPI:           npiSetter(func(c *ClientConfig) *uint8 { return &c.AddressNPI }),
		KeySourceAddrTON:        tonSetter(func(c *ClientConfig) *uint8 { return &c.SourceAddrTON }),
		KeySourceAddrNPI:        npiSetter(func(c *ClientConfig) *uint8 { return &c.SourceAddrNPI }),
		KeyDestAddrTON:          tonSetter(func(c *ClientConfig) *uint8 { return &c.DestAddrTON }),
		KeyDestAddrNPI:          npiSetter(func(c *ClientConfig) *uint8 { return &c.DestAddrNPI }),
		KeyAddressRange:         optStringSetter(func(c *ClientConfig) **string { return &c.AddressRange }),
		KeyServiceType:          optStringSetter(func(c *ClientConfig) **string { return &c.ServiceType }),
		KeySourceAddr:           optStringSetter(func(c *ClientConfig) **string { return &c.SourceAddr }),
		KeyScheduleDeliveryTime: optStringSetter(func(c *ClientConfig) **string { return &c.ScheduleDeliveryTime }),
		KeyValidityPeriod:       optStringSetter(func(c *ClientConfig) **string { return &c.ValidityPeriod }),
		KeyEsmClass:             byteSetter(0xFF, func(c *ClientConfig) *uint8 { return &c.EsmClass }),
		KeyPriorityFlag:         byteSetter(3, func(c *ClientConfig) *uint8 { return &c.PriorityFlag }),
		KeyRegisteredDelivery:   byteSetter(0xFF, func(c *ClientConfig) *uint8 { return &c.RegisteredDelivery }),
		KeyReplaceIfPresentFlag: byteSetter(1, func(c *ClientConfig) *uint8 { return &c.ReplaceIfPresentFlag }),
		KeySmDefaultMsgID:       byteSetter(0xFF, func(c *ClientConfig) *uint8 { return &c.SmDefaultMsgID }),
		KeyProtocolID: func(c *ClientConfig, k, v string) error {
			if isNone(v) {
				c.ProtocolID = nil
				return nil
			}
			n, err := parseByte(k, v, 0xFF)
			if err != nil {
				return err
			}
			c.ProtocolID = &n
			return nil
		},
		KeyDataCoding: func(c *ClientConfig, k, v string) error {
			n, err := parseByte(k, v, 0xFF)
			if err != nil {
				return err
			}
			if !slices.Contains(validDataCodings, n) {
				return cfgErr(k, UnknownValue, "invalid data_coding %d", n)
			}
			c.DataCoding = n
			return nil
		},
		KeySubmitSmThroughput: func(c *ClientConfig, k, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return cfgErr(k, TypeMismatch, "must be an integer or float")
			}
			if f < 0 {
				return cfgErr(k, UnknownValue, "must be positive or zero")
			}
			c.SubmitSmThroughput = f
			return nil
		},
	}
}

// Set parses value and writes it to the field named by key. The config is
// left untouched when an error is returned.
func (c *ClientConfig) Set(key, value string) (ConfigKey, error) {
	k, err := ParseConfigKey(key)
	if err != nil {
		return "", err
	}
	if err := setters[k](c, string(k), strings.TrimSpace(value)); err != nil {
		return k, err
	}
	return k, nil
}

func isNone(v string) bool { return strings.EqualFold(v, "none") || v == "" }

func boolSetter(field func(*ClientConfig) *bool) setter {
	return func(c *ClientConfig, k, v string) error {
		switch strings.ToLower(v) {
		case "yes", "true", "1":
			*field(c) = true
		case "no", "false", "0":
			*field(c) = false
		default:
			return cfgErr(k, TypeMismatch, "boolean value must be expressed by yes or no")
		}
		return nil
	}
}

// durationSetter accepts seconds ("30", "1.5") or Go durations ("30s").
func durationSetter(field func(*ClientConfig) *time.Duration) setter {
	return func(c *ClientConfig, k, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return cfgErr(k, TypeMismatch, "must be an integer or float")
		}
		if d < 0 {
			return cfgErr(k, UnknownValue, "must be positive or zero")
		}
		*field(c) = d
		return nil
	}
}

func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func optStringSetter(field func(*ClientConfig) **string) setter {
	return func(c *ClientConfig, _, v string) error {
		if isNone(v) {
			*field(c) = nil
			return nil
		}
		*field(c) = &v
		return nil
	}
}

func byteSetter(max uint8, field func(*ClientConfig) *uint8) setter {
	return func(c *ClientConfig, k, v string) error {
		n, err := parseByte(k, v, max)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func parseByte(k, v string, max uint8) (uint8, error) {
	n, err := strconv.ParseUint(v, 0, 8)
	if err != nil {
		return 0, cfgErr(k, TypeMismatch, "must be an integer between 0 and %d", max)
	}
	if uint8(n) > max {
		return 0, cfgErr(k, UnknownValue, "%d is above %d", n, max)
	}
	return uint8(n), nil
}

func parseLogLevel(v string) (string, bool) {
	switch v {
	case "10":
		return "debug", true
	case "20":
		return "info", true
	case "30":
		return "warn", true
	case "40", "50":
		return "error", true
	}
	if logging.ValidLevel(v) {
		return strings.ToLower(v), true
	}
	return "", false
}

// Type of number and numbering plan values.
const (
	TONUnknown          uint8 = 0
	TONInternational    uint8 = 1
	TONNational         uint8 = 2
	TONNetworkSpecific  uint8 = 3
	TONSubscriberNumber uint8 = 4
	TONAlphanumeric     uint8 = 5
	TONAbbreviated      uint8 = 6

	NPIUnknown     uint8 = 0
	NPIISDN        uint8 = 1
	NPIData        uint8 = 3
	NPITelex       uint8 = 4
	NPILandMobile  uint8 = 6
	NPINational    uint8 = 8
	NPIPrivate     uint8 = 9
	NPIERMES       uint8 = 10
	NPIInternet    uint8 = 14
	NPIWAPClientID uint8 = 18
)

var tonNames = map[string]uint8{
	"UNKNOWN": TONUnknown, "INTERNATIONAL": TONInternational, "NATIONAL": TONNational,
	"NETWORK_SPECIFIC": TONNetworkSpecific, "SUBSCRIBER_NUMBER": TONSubscriberNumber,
	"ALPHANUMERIC": TONAlphanumeric, "ABBREVIATED": TONAbbreviated,
}

var npiNames = map[string]uint8{
	"UNKNOWN": NPIUnknown, "ISDN": NPIISDN, "DATA": NPIData, "TELEX": NPITelex,
	"LAND_MOBILE": NPILandMobile, "NATIONAL": NPINational, "PRIVATE": NPIPrivate,
	"ERMES": NPIERMES, "INTERNET": NPIInternet, "WAP_CLIENT_ID": NPIWAPClientID,
}

func namedByteSetter(names map[string]uint8, field func(*ClientConfig) *uint8) setter {
	return func(c *ClientConfig, k, v string) error {
		if n, ok := names[strings.ToUpper(v)]; ok {
			*field(c) = n
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return cfgErr(k, UnknownValue, "unknown value %q", v)
		}
		for _, known := range names {
			if known == uint8(n) {
				*field(c) = known
				return nil
			}
		}
		return cfgErr(k, UnknownValue, "unknown value %q", v)
	}
}

func tonSetter(field func(*ClientConfig) *uint8) setter { return namedByteSetter(tonNames, field) }
func npiSetter(field func(*ClientConfig) *uint8) setter { return namedByteSetter(npiNames, field) }
