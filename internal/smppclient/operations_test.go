package smppclient

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

func testFactory(t *testing.T, maxParts int, split string) *OperationFactory {
	t.Helper()
	cfg, err := NewClientConfig("smsc_01")
	require.NoError(t, err)
	return NewOperationFactory(cfg, maxParts, split, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildSubmitSingle(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	p, err := f.BuildSubmit(SubmitRequest{DestinationAddr: "33600000000", ShortMessage: []byte("hello")})
	require.NoError(t, err)

	assert.Equal(t, smpphelper.CommandSubmitSm, p.CommandID)
	assert.Equal(t, []byte("hello"), p.ShortMessage)
	assert.Nil(t, p.Next)
	assert.Nil(t, p.SarMsgRefNum)
	// config defaults
	assert.Equal(t, TONNational, *p.SourceAddrTON)
	assert.Equal(t, uint8(0), *p.DataCoding)
	// absent from both request and config
	assert.Nil(t, p.ProtocolID)
	assert.Nil(t, p.ValidityPeriod)
	assert.Nil(t, p.ServiceType)
	assert.Equal(t, "", p.SourceAddr)
}

func TestBuildSubmitRequestOverridesConfig(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	p, err := f.BuildSubmit(SubmitRequest{
		SourceAddr:      smpphelper.Ptr("ACME"),
		DestinationAddr: "33600000000",
		ShortMessage:    []byte("hi"),
		PriorityFlag:    smpphelper.Ptr(uint8(2)),
		DataCoding:      smpphelper.Ptr(CodingUCS2),
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME", p.SourceAddr)
	assert.Equal(t, uint8(2), *p.PriorityFlag)
	assert.Equal(t, CodingUCS2, *p.DataCoding)
}

func TestBuildSubmitRequiresDestination(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	_, err := f.BuildSubmit(SubmitRequest{ShortMessage: []byte("x")})
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestBuildSubmitSARSplit(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	content := bytes.Repeat([]byte("0123456789"), 70)
	p, err := f.BuildSubmit(SubmitRequest{DestinationAddr: "33600000000", ShortMessage: content})
	require.NoError(t, err)

	segs := p.Segments()
	require.Len(t, segs, 3)
	var joined []byte
	for i, s := range segs {
		joined = append(joined, s.ShortMessage...)
		require.NotNil(t, s.SarMsgRefNum)
		assert.Equal(t, *segs[0].SarMsgRefNum, *s.SarMsgRefNum)
		assert.Equal(t, uint8(3), *s.SarTotalSegments)
		assert.Equal(t, uint8(i+1), *s.SarSegmentSeqnum)
		assert.LessOrEqual(t, len(s.ShortMessage), MaxShortMessageLength)
	}
	assert.Equal(t, content, joined)

	next, err := f.BuildSubmit(SubmitRequest{DestinationAddr: "33600000000", ShortMessage: content})
	require.NoError(t, err)
	assert.NotEqual(t, *p.SarMsgRefNum, *next.SarMsgRefNum)
}

func TestBuildSubmitUDHSplit(t *testing.T) {
	f := testFactory(t, 5, SplitUDH)
	content := bytes.Repeat([]byte("a"), 500)
	p, err := f.BuildSubmit(SubmitRequest{DestinationAddr: "33600000000", ShortMessage: content})
	require.NoError(t, err)

	segs := p.Segments()
	require.Len(t, segs, 3)
	var joined []byte
	for i, s := range segs {
		assert.True(t, s.HasUDH())
		info, ok := smpphelper.ParseConcatUDH(s.ShortMessage)
		require.True(t, ok)
		assert.Equal(t, uint8(3), info.Total)
		assert.Equal(t, uint8(i+1), info.Sequence)
		joined = append(joined, s.ShortMessage[info.HeaderLen:]...)
		more := uint8(1)
		if i == 2 {
			more = 0
		}
		assert.Equal(t, more, *s.MoreMessagesToSend)
		assert.Nil(t, s.SarMsgRefNum)
	}
	assert.Equal(t, content, joined)
}

func TestBuildSubmitTruncatesToMaxParts(t *testing.T) {
	f := testFactory(t, 2, SplitSAR)
	p, err := f.BuildSubmit(SubmitRequest{DestinationAddr: "336", ShortMessage: bytes.Repeat([]byte("b"), 1000)})
	require.NoError(t, err)
	segs := p.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, uint8(2), *segs[1].SarTotalSegments)
}

func TestClaimRefWraps(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	f.lastRef = 65535
	assert.Equal(t, uint16(1), f.claimRef())
	assert.Equal(t, uint16(2), f.claimRef())
}

func TestIsDeliveryReceipt(t *testing.T) {
	f := testFactory(t, 5, SplitSAR)
	p := &smpphelper.PDU{
		CommandID: smpphelper.CommandDeliverSm,
		EsmClass:  smpphelper.Ptr(smpphelper.EsmClassSMSCReceipt),
		ShortMessage: []byte("id:1891273321 sub:001 dlvrd:001 submit date:1305050826 " +
			"done date:1305050826 stat:DELIVRD err:000 text:DLVRD TO MOBILE"),
	}
	r := f.IsDeliveryReceipt(p)
	require.NotNil(t, r)
	assert.Equal(t, "1891273321", r.ID)
	assert.Equal(t, "DELIVRED", r.Stat)
	assert.Equal(t, "DELIVRD", r.Status())
	assert.Equal(t, "001", r.Sub)
	assert.Equal(t, "001", r.Dlvrd)
	assert.Equal(t, "1305050826", r.SubmitDate)
	assert.Equal(t, "000", r.Err)
	assert.Equal(t, "DLVRD TO MOBILE", r.Text)
}

func TestIsDeliveryReceiptTLVPrecedence(t *testing.T) {
	p := &smpphelper.PDU{
		CommandID:          smpphelper.CommandDataSm,
		ReceiptedMessageID: smpphelper.Ptr("ABC"),
		MessageState:       smpphelper.Ptr(dlr.StateUndeliverable),
		MessagePayload:     []byte("id:XYZ stat:DELIVRD"),
	}
	r := ParseReceipt(p)
	require.NotNil(t, r)
	assert.Equal(t, "ABC", r.ID)
	assert.Equal(t, "UNDELIV", r.Stat)
	assert.Equal(t, "ND", r.Sub)
	assert.Equal(t, "", r.Text)
}

func TestIsDeliveryReceiptRejectsOthers(t *testing.T) {
	assert.Nil(t, ParseReceipt(&smpphelper.PDU{CommandID: smpphelper.CommandSubmitSm, ShortMessage: []byte("id:1 stat:DELIVRD")}))
	assert.Nil(t, ParseReceipt(&smpphelper.PDU{CommandID: smpphelper.CommandDeliverSm, ShortMessage: []byte("hello there")}))
	assert.Nil(t, ParseReceipt(&smpphelper.PDU{CommandID: smpphelper.CommandDeliverSm, ShortMessage: []byte("id:123 only")}))
}

func TestBuildReceipt(t *testing.T) {
	sub := time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)
	done := time.Date(2024, 3, 1, 10, 25, 0, 0, time.UTC)
	p, err := BuildReceipt(ReceiptParams{
		MessageID:       "msg-1",
		SourceAddr:      "ACME",
		DestinationAddr: "33600000000",
		Status:          "ESME_ROK",
		SubmitDate:      sub,
		DoneDate:        done,
		SourceAddrTON:   TONAlphanumeric,
		DestAddrTON:     TONInternational,
		DestAddrNPI:     NPIISDN,
	})
	require.NoError(t, err)
	assert.Equal(t, smpphelper.CommandDeliverSm, p.CommandID)
	assert.Equal(t, "33600000000", p.SourceAddr)
	assert.Equal(t, "ACME", p.DestinationAddr)
	assert.Equal(t, TONInternational, *p.SourceAddrTON)
	assert.Equal(t, TONAlphanumeric, *p.DestAddrTON)
	assert.Equal(t, dlr.StateAccepted, *p.MessageState)
	assert.Equal(t, "id:msg-1 submit date:202403011020 done date:202403011025 stat:ACCEPTD err:000", string(p.ShortMessage))

	// the receipt parses back
	r := ParseReceipt(p)
	require.NotNil(t, r)
	assert.Equal(t, "msg-1", r.ID)
	assert.Equal(t, "ACCEPTD", r.Stat)

	p, err = BuildReceipt(ReceiptParams{Command: smpphelper.CommandDataSm, MessageID: "m", Status: "EXPIRED"})
	require.NoError(t, err)
	assert.Equal(t, smpphelper.CommandDataSm, p.CommandID)
	assert.Empty(t, p.ShortMessage)
	assert.Equal(t, dlr.StateExpired, *p.MessageState)

	_, err = BuildReceipt(ReceiptParams{MessageID: "m", Status: "BOGUS"})
	assert.ErrorIs(t, err, dlr.ErrUnknownStatus)
}
