/*
Copyright 2016-2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryOpenAssignsDenseIDs(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c1 := r.Open(KindSession, DefaultWindow, DefaultMaxPacket)
	c2 := r.Open(KindDirectTCP, DefaultWindow, DefaultMaxPacket)
	require.Equal(t, 0, c1.ID)
	require.Equal(t, 1, c2.ID)
	require.Equal(t, 2, r.Count())

	got, ok := r.Get(c1.ID)
	require.True(t, ok)
	require.Equal(t, c1, got)

	r.Remove(c1.ID)
	require.Equal(t, 1, r.Count())
	_, ok = r.Get(c1.ID)
	require.False(t, ok)
}

func TestChannelConfirmSuccessMovesToOpen(t *testing.T) {
	t.Parallel()

	c := &Channel{state: StateOpening}
	var gotOK bool
	c.confirm = func(ok bool, _ []byte) { gotOK = ok }

	c.Confirm(true, nil)
	require.Equal(t, StateOpen, c.State())
	require.True(t, gotOK)
}

func TestChannelConfirmFailureMovesToClosed(t *testing.T) {
	t.Parallel()

	c := &Channel{state: StateOpening}
	c.Confirm(false, nil)
	require.Equal(t, StateClosed, c.State())
}

func TestChannelTransitionsAreMonotone(t *testing.T) {
	t.Parallel()

	c := &Channel{state: StateOpen}
	require.True(t, c.transition(StateInputDraining))
	require.False(t, c.transition(StateOpen), "cannot move backwards")
	require.True(t, c.transition(StateClosed))
	require.False(t, c.transition(StateOpen), "closed channel cannot reopen")
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	c := &Channel{state: StateOpen}
	c.Close()
	c.Close()
	require.Equal(t, StateClosed, c.State())
}

func TestConsumeLocalWindowSignalsAdjustAtHalfThreshold(t *testing.T) {
	t.Parallel()

	c := &Channel{LocalWindow: DefaultWindow, MaxPacket: DefaultMaxPacket}

	adjust, should := c.ConsumeLocalWindow(DefaultWindow/2 - 1)
	require.False(t, should)
	require.Zero(t, adjust)

	adjust, should = c.ConsumeLocalWindow(1)
	require.True(t, should)
	require.Equal(t, DefaultWindow/2, adjust)
	require.Equal(t, DefaultWindow, c.LocalWindow)
}

func TestConsumeLocalWindowUsesMaxPacketThresholdWhenNarrow(t *testing.T) {
	t.Parallel()

	c := &Channel{LocalWindow: 1000, MaxPacket: 100}
	_, should := c.ConsumeLocalWindow(99)
	require.False(t, should)
	_, should = c.ConsumeLocalWindow(1)
	require.True(t, should)
}

func TestReserveRemoteWindowCapsAtMaxPacketAndWindow(t *testing.T) {
	t.Parallel()

	c := &Channel{RemoteWindow: 50, MaxPacket: 30}
	require.Equal(t, 30, c.ReserveRemoteWindow(100))
	require.Equal(t, 20, c.RemoteWindow)
	require.False(t, c.FlowBlocked)

	require.Equal(t, 20, c.ReserveRemoteWindow(100))
	require.Equal(t, 0, c.RemoteWindow)
	require.True(t, c.FlowBlocked)
}

func TestGrantRemoteWindowUnblocksFlow(t *testing.T) {
	t.Parallel()

	c := &Channel{RemoteWindow: 0, FlowBlocked: true}
	c.GrantRemoteWindow(100)
	require.Equal(t, 100, c.RemoteWindow)
	require.False(t, c.FlowBlocked)
}

func TestRegisterAndResolveGlobalConfirmFIFO(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var order []int
	r.RegisterGlobalConfirm(func(bool, []byte) { order = append(order, 1) })
	r.RegisterGlobalConfirm(func(bool, []byte) { order = append(order, 2) })

	require.True(t, r.ResolveGlobalConfirm(true, nil))
	require.True(t, r.ResolveGlobalConfirm(true, nil))
	require.Equal(t, []int{1, 2}, order)

	require.False(t, r.ResolveGlobalConfirm(true, nil))
}
