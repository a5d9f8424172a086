package smppclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientConfigDefaults(t *testing.T) {
	cfg, err := NewClientConfig("smsc_01")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 2775, cfg.Port)
	assert.Equal(t, BindTransceiver, cfg.Bind)
	assert.Equal(t, 30*time.Second, cfg.EnquireLinkTimer)
	assert.Equal(t, 120*time.Second, cfg.RequeueDelay)
	assert.Equal(t, TONNational, cfg.SourceAddrTON)
	assert.Equal(t, TONInternational, cfg.DestAddrTON)
	assert.Nil(t, cfg.ProtocolID)
	assert.Nil(t, cfg.SourceAddr)
	assert.NoError(t, cfg.Validate())
}

func TestNewClientConfigID(t *testing.T) {
	_, err := NewClientConfig("")
	assert.True(t, IsConfigError(err, UndefinedID))

	for _, id := range []string{"ab", "has space", "waytoolongconnectoridentifier", "bad!"} {
		_, err := NewClientConfig(id)
		assert.True(t, IsConfigError(err, InvalidID), id)
	}
	for _, id := range []string{"abc", "smsc-1", "A_b-C_0123456789012345678"} {
		_, err := NewClientConfig(id)
		assert.NoError(t, err, id)
	}
}

func TestClientConfigSet(t *testing.T) {
	cfg, err := NewClientConfig("smsc_01")
	require.NoError(t, err)

	key, err := cfg.Set("port", "2776")
	require.NoError(t, err)
	assert.Equal(t, KeyPort, key)
	assert.Equal(t, 2776, cfg.Port)

	_, err = cfg.Set("port", "abc")
	assert.True(t, IsConfigError(err, TypeMismatch))
	assert.Equal(t, 2776, cfg.Port)

	_, err = cfg.Set("bind", "sideways")
	assert.True(t, IsConfigError(err, UnknownValue))

	_, err = cfg.Set("con_loss_retry", "maybe")
	assert.True(t, IsConfigError(err, TypeMismatch))

	key, err = cfg.Set("con_loss_retry", "no")
	require.NoError(t, err)
	assert.Equal(t, KeyReconnectOnLoss, key)
	assert.False(t, cfg.ReconnectOnConnectionLoss)

	key, err = cfg.Set("coding", "8")
	require.NoError(t, err)
	assert.Equal(t, KeyDataCoding, key)
	assert.Equal(t, uint8(8), cfg.DataCoding)

	_, err = cfg.Set("coding", "11")
	assert.True(t, IsConfigError(err, UnknownValue))

	_, err = cfg.Set("src_ton", "alphanumeric")
	require.NoError(t, err)
	assert.Equal(t, TONAlphanumeric, cfg.SourceAddrTON)

	_, err = cfg.Set("dst_npi", "99")
	assert.True(t, IsConfigError(err, UnknownValue))

	_, err = cfg.Set("validity", "000001000000000R")
	require.NoError(t, err)
	require.NotNil(t, cfg.ValidityPeriod)
	_, err = cfg.Set("validity", "None")
	require.NoError(t, err)
	assert.Nil(t, cfg.ValidityPeriod)

	_, err = cfg.Set("elink_interval", "45")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.EnquireLinkTimer)
	_, err = cfg.Set("res_to", "1m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.ResponseTimer)

	_, err = cfg.Set("username", "averyveryverylongusername")
	assert.True(t, IsConfigError(err, TypeMismatch))
	_, err = cfg.Set("password", "123456789")
	assert.True(t, IsConfigError(err, TypeMismatch))

	_, err = cfg.Set("loglevel", "20")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	_, err = cfg.Set("log_level", "verbose")
	assert.True(t, IsConfigError(err, UnknownValue))

	_, err = cfg.Set("no_such_key", "1")
	assert.True(t, IsConfigError(err, UnknownValue))

	assert.NoError(t, cfg.Validate())
}

func TestRequiresRestart(t *testing.T) {
	for _, k := range []ConfigKey{KeyHost, KeyPort, KeyUsername, KeyPassword, KeySystemType, KeyLogLevel, KeyLogFile, KeyLogRotate, KeyBind} {
		assert.True(t, RequiresRestart(k), k)
	}
	for _, k := range []ConfigKey{KeySubmitSmThroughput, KeyRequeueDelay, KeyDataCoding, KeyDLRExpiry} {
		assert.False(t, RequiresRestart(k), k)
	}
}

func TestClientConfigCloneIsDeep(t *testing.T) {
	cfg, err := NewClientConfig("smsc_01")
	require.NoError(t, err)
	_, err = cfg.Set("src_addr", "ACME")
	require.NoError(t, err)

	cp := cfg.Clone()
	*cp.SourceAddr = "OTHER"
	assert.Equal(t, "ACME", *cfg.SourceAddr)
}

func TestEncodeText(t *testing.T) {
	b, err := EncodeText(CodingUCS2, "hé")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 'h', 0x00, 0xE9}, b)

	s, err := DecodeText(CodingUCS2, b)
	require.NoError(t, err)
	assert.Equal(t, "hé", s)

	b, err = EncodeText(CodingLatin1, "café")
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, b)

	b, err = EncodeText(CodingBinary, "raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)
}
