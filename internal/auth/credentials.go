package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/thrillee/aegisrouter/pkg/codes"
)

var (
	ErrQuotaUnlimited      = errors.New("quota is unlimited, set it before updating")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientCount   = errors.New("insufficient submit_sm_count")
)

// MtAuthorizations lists what a user may do or override when sending MT messages.
type MtAuthorizations struct {
	HTTPSend          bool `json:"http_send"`
	HTTPLongContent   bool `json:"http_long_content"`
	SetDLRLevel       bool `json:"set_dlr_level"`
	SetDLRMethod      bool `json:"set_dlr_method"`
	SetSourceAddress  bool `json:"set_source_address"`
	SetPriority       bool `json:"set_priority"`
	SetValidityPeriod bool `json:"set_validity_period"`
}

// MtValueFilters are regular expressions the submitted values must match.
type MtValueFilters struct {
	DestinationAddress string `json:"destination_address"`
	SourceAddress      string `json:"source_address"`
	Priority           string `json:"priority"`
	ValidityPeriod     string `json:"validity_period"`
	Content            string `json:"content"`
}

// MtDefaults are applied when the submitted request leaves the value unset.
type MtDefaults struct {
	SourceAddress *string `json:"source_address"`
}

// MtQuotas are nil when unlimited.
type MtQuotas struct {
	Balance                      *decimal.Decimal `json:"balance"`
	EarlyDecrementBalancePercent *int             `json:"early_decrement_balance_percent"`
	SubmitSmCount                *int64           `json:"submit_sm_count"`
	HTTPThroughput               *float64         `json:"http_throughput"`
}

// MtMessagingCredential is the credential bundle for sending MT messages.
type MtMessagingCredential struct {
	Authorizations MtAuthorizations `json:"authorizations"`
	ValueFilters   MtValueFilters   `json:"value_filters"`
	Defaults       MtDefaults       `json:"defaults"`
	Quotas         MtQuotas         `json:"quotas"`

	// QuotasUpdated is raised whenever a quota changes so the persistence job
	// knows users need to be written out.
	QuotasUpdated bool `json:"-"`
}

// NewMtMessagingCredential returns a credential with every authorization set to
// defaultAuthorization, permissive value filters and unlimited quotas.
func NewMtMessagingCredential(defaultAuthorization bool) *MtMessagingCredential {
	return &MtMessagingCredential{
		Authorizations: MtAuthorizations{
			HTTPSend:          defaultAuthorization,
			HTTPLongContent:   defaultAuthorization,
			SetDLRLevel:       defaultAuthorization,
			SetDLRMethod:      defaultAuthorization,
			SetSourceAddress:  defaultAuthorization,
			SetPriority:       defaultAuthorization,
			SetValidityPeriod: defaultAuthorization,
		},
		ValueFilters: MtValueFilters{
			DestinationAddress: `.*`,
			SourceAddress:      `.*`,
			Priority:           `^[0-3]$`,
			ValidityPeriod:     `^\d+$`,
			Content:            `.*`,
		},
	}
}

// Clone returns a deep copy.
func (c *MtMessagingCredential) Clone() *MtMessagingCredential {
	cp := *c
	if c.Defaults.SourceAddress != nil {
		v := *c.Defaults.SourceAddress
		cp.Defaults.SourceAddress = &v
	}
	if c.Quotas.Balance != nil {
		v := *c.Quotas.Balance
		cp.Quotas.Balance = &v
	}
	if c.Quotas.EarlyDecrementBalancePercent != nil {
		v := *c.Quotas.EarlyDecrementBalancePercent
		cp.Quotas.EarlyDecrementBalancePercent = &v
	}
	if c.Quotas.SubmitSmCount != nil {
		v := *c.Quotas.SubmitSmCount
		cp.Quotas.SubmitSmCount = &v
	}
	if c.Quotas.HTTPThroughput != nil {
		v := *c.Quotas.HTTPThroughput
		cp.Quotas.HTTPThroughput = &v
	}
	return &cp
}

// =============================================================================
// Authorizations
// =============================================================================

func (c *MtMessagingCredential) authorizationField(key string) (*bool, error) {
	switch key {
	case "http_send":
		return &c.Authorizations.HTTPSend, nil
	case "http_long_content":
		return &c.Authorizations.HTTPLongContent, nil
	case "set_dlr_level":
		return &c.Authorizations.SetDLRLevel, nil
	case "set_dlr_method":
		return &c.Authorizations.SetDLRMethod, nil
	case "set_source_address":
		return &c.Authorizations.SetSourceAddress, nil
	case "set_priority":
		return &c.Authorizations.SetPriority, nil
	case "set_validity_period":
		return &c.Authorizations.SetValidityPeriod, nil
	}
	return nil, fmt.Errorf("%w: %s is not a valid authorization", ErrUnknownKey, key)
}

func (c *MtMessagingCredential) SetAuthorization(key string, value bool) error {
	f, err := c.authorizationField(key)
	if err != nil {
		return err
	}
	*f = value
	return nil
}

// IsAuthorized is GetAuthorization with unknown keys treated as not authorized.
func (c *MtMessagingCredential) IsAuthorized(key string) bool {
	ok, err := c.GetAuthorization(key)
	return err == nil && ok
}

func (c *MtMessagingCredential) GetAuthorization(key string) (bool, error) {
	f, err := c.authorizationField(key)
	if err != nil {
		return false, err
	}
	return *f, nil
}

// =============================================================================
// Value filters
// =============================================================================

func (c *MtMessagingCredential) valueFilterField(key string) (*string, error) {
	switch key {
	case "destination_address":
		return &c.ValueFilters.DestinationAddress, nil
	case "source_address":
		return &c.ValueFilters.SourceAddress, nil
	case "priority":
		return &c.ValueFilters.Priority, nil
	case "validity_period":
		return &c.ValueFilters.ValidityPeriod, nil
	case "content":
		return &c.ValueFilters.Content, nil
	}
	return nil, fmt.Errorf("%w: %s is not a valid value filter", ErrUnknownKey, key)
}

// SetValueFilter replaces a value filter after checking the pattern compiles.
func (c *MtMessagingCredential) SetValueFilter(key, pattern string) error {
	f, err := c.valueFilterField(key)
	if err != nil {
		return err
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: value filter %s: %v", ErrInvalidParam, key, err)
	}
	*f = pattern
	return nil
}

func (c *MtMessagingCredential) GetValueFilter(key string) (string, error) {
	f, err := c.valueFilterField(key)
	if err != nil {
		return "", err
	}
	return *f, nil
}

// ValueFilterMatches checks value against the filter stored under key. The
// pattern is anchored at the start of value.
func (c *MtMessagingCredential) ValueFilterMatches(key, value string) (bool, error) {
	pattern, err := c.GetValueFilter(key)
	if err != nil {
		return false, err
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return false, fmt.Errorf("%w: value filter %s: %v", ErrInvalidParam, key, err)
	}
	return re.MatchString(value), nil
}

// =============================================================================
// Defaults
// =============================================================================

func (c *MtMessagingCredential) SetDefault(key string, value *string) error {
	if key != "source_address" {
		return fmt.Errorf("%w: %s is not a valid default value", ErrUnknownKey, key)
	}
	c.Defaults.SourceAddress = value
	return nil
}

func (c *MtMessagingCredential) GetDefault(key string) (*string, error) {
	if key != "source_address" {
		return nil, fmt.Errorf("%w: %s is not a valid default value", ErrUnknownKey, key)
	}
	return c.Defaults.SourceAddress, nil
}

// =============================================================================
// Quotas
// =============================================================================

func isUnset(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.EqualFold(v, codes.NotDefined) || strings.EqualFold(v, "none")
}

// SetQuota sets a quota from its textual form. "ND" (or empty) means unlimited.
func (c *MtMessagingCredential) SetQuota(key, value string) error {
	unset := isUnset(value)
	switch key {
	case "balance":
		if unset {
			c.Quotas.Balance = nil
			break
		}
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%w: balance must be a non negative decimal", ErrInvalidParam)
		}
		c.Quotas.Balance = &d
	case "early_decrement_balance_percent":
		if unset {
			c.Quotas.EarlyDecrementBalancePercent = nil
			break
		}
		p, err := strconv.Atoi(value)
		if err != nil || p < 1 || p > 100 {
			return fmt.Errorf("%w: early_decrement_balance_percent must be within 1..100", ErrInvalidParam)
		}
		c.Quotas.EarlyDecrementBalancePercent = &p
	case "submit_sm_count":
		if unset {
			c.Quotas.SubmitSmCount = nil
			break
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: submit_sm_count must be a non negative integer", ErrInvalidParam)
		}
		c.Quotas.SubmitSmCount = &n
	case "http_throughput":
		if unset {
			c.Quotas.HTTPThroughput = nil
			break
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: http_throughput must be a non negative number", ErrInvalidParam)
		}
		c.Quotas.HTTPThroughput = &f
	default:
		return fmt.Errorf("%w: %s is not a valid quota", ErrUnknownKey, key)
	}
	c.QuotasUpdated = true
	return nil
}

// GetQuota renders a quota, "ND" when unlimited.
func (c *MtMessagingCredential) GetQuota(key string) (string, error) {
	switch key {
	case "balance":
		if c.Quotas.Balance == nil {
			return codes.NotDefined, nil
		}
		return c.Quotas.Balance.String(), nil
	case "early_decrement_balance_percent":
		if c.Quotas.EarlyDecrementBalancePercent == nil {
			return codes.NotDefined, nil
		}
		return strconv.Itoa(*c.Quotas.EarlyDecrementBalancePercent), nil
	case "submit_sm_count":
		if c.Quotas.SubmitSmCount == nil {
			return codes.NotDefined, nil
		}
		return strconv.FormatInt(*c.Quotas.SubmitSmCount, 10), nil
	case "http_throughput":
		if c.Quotas.HTTPThroughput == nil {
			return codes.NotDefined, nil
		}
		return strconv.FormatFloat(*c.Quotas.HTTPThroughput, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %s is not a valid quota", ErrUnknownKey, key)
}

// UpdateQuota adds difference to a counting quota (balance or submit_sm_count).
// An unlimited quota cannot be updated relatively.
func (c *MtMessagingCredential) UpdateQuota(key, difference string) error {
	switch key {
	case "balance":
		d, err := decimal.NewFromString(difference)
		if err != nil {
			return fmt.Errorf("%w: balance difference must be a decimal", ErrInvalidParam)
		}
		if c.Quotas.Balance == nil {
			return fmt.Errorf("%s: %w", key, ErrQuotaUnlimited)
		}
		nb := c.Quotas.Balance.Add(d)
		c.Quotas.Balance = &nb
	case "submit_sm_count":
		n, err := strconv.ParseInt(difference, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: submit_sm_count difference must be an integer", ErrInvalidParam)
		}
		if c.Quotas.SubmitSmCount == nil {
			return fmt.Errorf("%s: %w", key, ErrQuotaUnlimited)
		}
		nc := *c.Quotas.SubmitSmCount + n
		c.Quotas.SubmitSmCount = &nc
	case "early_decrement_balance_percent", "http_throughput":
		return fmt.Errorf("%w: %s cannot be updated relatively", ErrInvalidParam, key)
	default:
		return fmt.Errorf("%w: %s is not a valid quota", ErrUnknownKey, key)
	}
	c.QuotasUpdated = true
	return nil
}

// ConsumeBalance removes amount from a limited balance. Unlimited balances are left untouched.
func (c *MtMessagingCredential) ConsumeBalance(amount decimal.Decimal) error {
	if c.Quotas.Balance == nil || !amount.IsPositive() {
		return nil
	}
	if c.Quotas.Balance.LessThan(amount) {
		return fmt.Errorf("%w (%s/%s)", ErrInsufficientBalance, c.Quotas.Balance.String(), amount.String())
	}
	nb := c.Quotas.Balance.Sub(amount)
	c.Quotas.Balance = &nb
	c.QuotasUpdated = true
	return nil
}

// ConsumeSubmitSmCount removes n from a limited submit_sm_count.
func (c *MtMessagingCredential) ConsumeSubmitSmCount(n int64) error {
	if c.Quotas.SubmitSmCount == nil || n <= 0 {
		return nil
	}
	if *c.Quotas.SubmitSmCount < n {
		return fmt.Errorf("%w (%d/%d)", ErrInsufficientCount, *c.Quotas.SubmitSmCount, n)
	}
	nc := *c.Quotas.SubmitSmCount - n
	c.Quotas.SubmitSmCount = &nc
	c.QuotasUpdated = true
	return nil
}

// =============================================================================
// MO credential
// =============================================================================

// MoMessagingCredential is the credential bundle for receiving MO messages.
type MoMessagingCredential struct {
	Authorizations struct {
		Receive bool `json:"receive"`
	} `json:"authorizations"`
	Quotas struct {
		DeliverSmCount *int64 `json:"deliver_sm_count"`
	} `json:"quotas"`
}

func NewMoMessagingCredential(defaultAuthorization bool) *MoMessagingCredential {
	c := &MoMessagingCredential{}
	c.Authorizations.Receive = defaultAuthorization
	return c
}

func (c *MoMessagingCredential) Clone() *MoMessagingCredential {
	cp := *c
	if c.Quotas.DeliverSmCount != nil {
		v := *c.Quotas.DeliverSmCount
		cp.Quotas.DeliverSmCount = &v
	}
	return &cp
}

func (c *MoMessagingCredential) SetQuota(key, value string) error {
	if key != "deliver_sm_count" {
		return fmt.Errorf("%w: %s is not a valid quota", ErrUnknownKey, key)
	}
	if isUnset(value) {
		c.Quotas.DeliverSmCount = nil
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: deliver_sm_count must be a non negative integer", ErrInvalidParam)
	}
	c.Quotas.DeliverSmCount = &n
	return nil
}

func (c *MoMessagingCredential) UpdateQuota(key, difference string) error {
	if key != "deliver_sm_count" {
		return fmt.Errorf("%w: %s is not a valid quota", ErrUnknownKey, key)
	}
	n, err := strconv.ParseInt(difference, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: deliver_sm_count difference must be an integer", ErrInvalidParam)
	}
	if c.Quotas.DeliverSmCount == nil {
		return fmt.Errorf("%s: %w", key, ErrQuotaUnlimited)
	}
	nc := *c.Quotas.DeliverSmCount + n
	c.Quotas.DeliverSmCount = &nc
	return nil
}
