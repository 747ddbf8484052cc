package connfsm_test

import (
	"testing"

	"github.com/omalloc/waypoint/core/connfsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_OriginConnectSequence(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.StartOriginConnect()
	assert.Equal(t, connfsm.RecvConnecting, c.Origin.Recv)
	assert.Equal(t, connfsm.SendConnecting, c.Origin.Send)
	assert.Equal(t, connfsm.RecvIdle, c.Client.Recv)

	c.OriginConnected()
	assert.Equal(t, connfsm.RecvIdle, c.Origin.Recv)
	assert.Equal(t, connfsm.SendIdle, c.Origin.Send)
}

func TestConnection_RecvCycleAccumulatesBytes(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.BeginRecv(connfsm.LegOrigin)
	assert.Equal(t, connfsm.RecvReading, c.Origin.Recv)

	c.RecvCompleted(connfsm.LegOrigin, 128)
	assert.Equal(t, connfsm.RecvIdle, c.Origin.Recv)

	c.BeginRecv(connfsm.LegOrigin)
	c.RecvCompleted(connfsm.LegOrigin, 64)

	assert.False(t, c.HalfClosed())
}

func TestConnection_PauseResumeOriginRecv(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.StartOriginConnect()
	c.OriginConnected()

	c.PauseOriginRecv()
	assert.Equal(t, connfsm.RecvPaused, c.Origin.Recv)

	c.ResumeOriginRecv()
	assert.Equal(t, connfsm.RecvIdle, c.Origin.Recv)
}

func TestConnection_RecvFailedMarksHalfClosed(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.StartOriginConnect()
	c.OriginConnected()

	c.RecvFailed(connfsm.LegOrigin, true)
	assert.Equal(t, connfsm.RecvEOF, c.Origin.Recv)
	assert.True(t, c.HalfClosed())
}

func TestConnection_ShutdownSendDeferredWhileCrossLegUnsent(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})

	ok := c.RequestShutdownSend(connfsm.LegClient, true)
	assert.False(t, ok, "shutdown must defer while the cross-leg reader still has unsent bytes")
	assert.Equal(t, connfsm.ShutdownWaitEnd, c.Client.Shutdown)

	c.BeginSend(connfsm.LegClient)
	c.SendCompleted(connfsm.LegClient)
	assert.Equal(t, connfsm.ShutdownDone, c.Client.Shutdown, "a drained send must apply the deferred shutdown")
}

func TestConnection_ShutdownSendImmediateWhenNothingPending(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})

	ok := c.RequestShutdownSend(connfsm.LegOrigin, false)
	assert.True(t, ok)
	assert.Equal(t, connfsm.ShutdownDone, c.Origin.Shutdown)
}

func TestConnection_RequestCloseDeferredThenDrained(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})

	ok := c.RequestClose(connfsm.LegOrigin, true)
	assert.False(t, ok)

	c.BeginSend(connfsm.LegOrigin)
	c.SendCompleted(connfsm.LegOrigin)
	assert.Equal(t, connfsm.ShutdownDone, c.Origin.Shutdown)
}

func TestConnection_EnterBlindTunnelUnpausesOrigin(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.StartOriginConnect()
	c.OriginConnected()
	c.PauseOriginRecv()
	require.Equal(t, connfsm.RecvPaused, c.Origin.Recv)

	c.EnterBlindTunnel()
	assert.True(t, c.IsBlindTunnel())
	assert.Equal(t, connfsm.RecvIdle, c.Origin.Recv)
}

func TestConnection_StallSweepClosesOnlyWhenStalledAndHalfClosed(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	c.StartOriginConnect()
	c.OriginConnected()

	c.BeginRecv(connfsm.LegOrigin)
	c.RecvCompleted(connfsm.LegOrigin, 10)

	assert.False(t, c.StallSweepTick(), "not half-closed yet, sweep must not fire")

	c.RecvFailed(connfsm.LegClient, true)
	assert.True(t, c.HalfClosed())

	assert.True(t, c.StallSweepTick(), "no new bytes since the last tick, sweep must close it")

	c.BeginRecv(connfsm.LegOrigin)
	c.RecvCompleted(connfsm.LegOrigin, 5)
	assert.False(t, c.StallSweepTick(), "new bytes arrived since the last snapshot")
}

func TestConnection_GuardsDefaultToAllowedWhenUnset(t *testing.T) {
	c := connfsm.New(connfsm.Guards{})
	assert.True(t, c.OrgRecvAllowed())
	assert.True(t, c.ClnRecvAllowed())
	assert.True(t, c.OrgSendAllowed())
	assert.True(t, c.ClnSendAllowed())
}

func TestConnection_GuardsDelegateToCallback(t *testing.T) {
	allowed := false
	c := connfsm.New(connfsm.Guards{
		OrgSendAllowed: func() bool { return allowed },
	})
	assert.False(t, c.OrgSendAllowed())
	allowed = true
	assert.True(t, c.OrgSendAllowed())
}
