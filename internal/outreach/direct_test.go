package outreach

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbot/internal/dispatch"
	logx "leadbot/pkg/logx"
)

func newDirect(operator string) (*Direct, *fakeChannel, *fakeVerifier) {
	ch := newFakeChannel()
	ver := &fakeVerifier{verdicts: map[string]bool{}}
	p := dispatch.NewPacer(ch, dispatch.Config{}, logx.Nop())
	return NewDirect(ch, ver, p, nil, nil, operator, logx.Nop()), ch, ver
}

func TestSendWelcome(t *testing.T) {
	d, ch, _ := newDirect("553189551995")

	require.NoError(t, d.SendWelcome(context.Background(), "(31) 99999-8888", "Ana", "Pizza Place"))
	require.Len(t, ch.sent["5531999998888"], 1)
	assert.Contains(t, ch.sent["5531999998888"][0], "Ana")
	require.Len(t, ch.sent["5531989551995"], 1)
	assert.Contains(t, ch.sent["5531989551995"][0], "Pizza Place")
}

func TestSendWelcomeErrors(t *testing.T) {
	ctx := context.Background()

	d, _, _ := newDirect("")
	assert.ErrorIs(t, d.SendWelcome(ctx, "", "Ana", "Loja"), ErrValidation)
	assert.ErrorIs(t, d.SendWelcome(ctx, "123", "Ana", "Loja"), ErrValidation)

	d, ch, _ := newDirect("")
	ch.connected = false
	assert.ErrorIs(t, d.SendWelcome(ctx, "31999998888", "Ana", "Loja"), ErrConnectivity)

	d, ch, _ = newDirect("")
	ch.connErr = errBoom
	assert.ErrorIs(t, d.SendWelcome(ctx, "31999998888", "Ana", "Loja"), ErrConnectivity)

	d, _, ver := newDirect("")
	ver.verdicts["5531999998888"] = false
	err := d.SendWelcome(ctx, "31999998888", "Ana", "Loja")
	assert.ErrorIs(t, err, ErrNotReachable)
	assert.ErrorIs(t, err, ErrValidation)

	d, ch, _ = newDirect("")
	ch.fail["5531999998888"] = errBoom
	err = d.SendWelcome(ctx, "31999998888", "Ana", "Loja")
	assert.ErrorIs(t, err, ErrDispatch)
	assert.ErrorIs(t, err, errBoom)
}

func TestSendWelcomeOperatorNoticeIsBestEffort(t *testing.T) {
	d, ch, _ := newDirect("553189551995")
	ch.fail["5531989551995"] = errBoom
	require.NoError(t, d.SendWelcome(context.Background(), "31999998888", "Ana", "Loja"))
}

func TestSendNotificationBothVariants(t *testing.T) {
	d, ch, _ := newDirect("")
	r, err := d.SendNotification(context.Background(), "31999998888", "pedido pronto")
	require.NoError(t, err)
	assert.Equal(t, NotifyResult{Attempted: 2, Succeeded: 2}, r)
	assert.ElementsMatch(t, []string{"5531999998888", "553199998888"}, ch.SentTo())

	ch.fail["5531999998888"] = errBoom
	r, err = d.SendNotification(context.Background(), "31999998888", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Succeeded)

	ch.fail["553199998888"] = errBoom
	_, err = d.SendNotification(context.Background(), "31999998888", "x")
	assert.True(t, errors.Is(err, ErrDispatch))

	_, err = d.SendNotification(context.Background(), "abc", "x")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRelayLog(t *testing.T) {
	d, ch, _ := newDirect("")
	assert.ErrorIs(t, d.RelayLog(context.Background(), "hello"), ErrDispatch)

	d, ch, _ = newDirect("553189551995")
	assert.ErrorIs(t, d.RelayLog(context.Background(), " "), ErrValidation)
	require.NoError(t, d.RelayLog(context.Background(), "cupom usado"))
	assert.Equal(t, []string{"cupom usado"}, ch.sent["5531989551995"])
}
