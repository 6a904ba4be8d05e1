package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		resp Response
	}{
		{name: "effect success", resp: *EffectSuccess(1, "Effect applied successfully")},
		{name: "effect success timed", resp: *EffectSuccessTimed(1, "", time.Second)},
		{name: "login success", resp: *LoginSuccess()},
		{name: "disconnect", resp: *Disconnect("Server is shutting down")},
		{name: "effect status by ids", resp: *EffectStatus(ResultNotVisible, []string{"summon"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.resp)
			require.NoError(t, err)

			var got Response
			require.NoError(t, json.Unmarshal(data, &got))

			if diff := cmp.Diff(tc.resp, got, cmpopts.IgnoreUnexported(Response{})); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResponseWireShape(t *testing.T) {
	resp := EffectSuccessTimed(1, "Effect applied successfully", time.Second)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	require.Equal(t, float64(1), m["id"])
	require.Equal(t, float64(PacketEffectResult), m["type"])
	require.Equal(t, float64(ResultSuccess), m["status"])
	require.Equal(t, float64(1000), m["timeRemaining"])
}

func TestResponseValidateInvariants(t *testing.T) {
	t.Run("effect result requires positive id", func(t *testing.T) {
		rt := ResultSuccess
		r := Response{PacketType: PacketEffectResult, ResultType: &rt}
		require.Error(t, r.Validate())
	})

	t.Run("non effect result must carry id zero", func(t *testing.T) {
		r := Response{ID: 5, PacketType: PacketKeepAlive}
		require.Error(t, r.Validate())
	})

	t.Run("disconnect requires message", func(t *testing.T) {
		r := Response{PacketType: PacketDisconnect}
		require.Error(t, r.Validate())
	})

	t.Run("result type required for effect result", func(t *testing.T) {
		r := Response{ID: 1, PacketType: PacketEffectResult}
		require.Error(t, r.Validate())
	})

	t.Run("result type forbidden outside its families", func(t *testing.T) {
		r := Response{ID: 0, PacketType: PacketKeepAlive}
		rt := ResultSuccess
		r.ResultType = &rt
		require.Error(t, r.Validate())
	})

	t.Run("result family mismatch rejected", func(t *testing.T) {
		rt := ResultVisible
		r := Response{ID: 1, PacketType: PacketEffectResult, ResultType: &rt}
		require.Error(t, r.Validate())
	})

	t.Run("negative time remaining rejected", func(t *testing.T) {
		rt := ResultPaused
		neg := -time.Second
		r := Response{ID: 1, PacketType: PacketEffectResult, ResultType: &rt, TimeRemaining: &neg}
		require.Error(t, r.Validate())
	})

	t.Run("zero time remaining rejected when explicitly set", func(t *testing.T) {
		rt := ResultPaused
		zero := time.Duration(0)
		r := Response{ID: 1, PacketType: PacketEffectResult, ResultType: &rt, TimeRemaining: &zero}
		require.Error(t, r.Validate())
	})

	t.Run("unset time remaining passes", func(t *testing.T) {
		rt := ResultSuccess
		r := Response{ID: 1, PacketType: PacketEffectResult, ResultType: &rt}
		require.NoError(t, r.Validate())
	})

	t.Run("effect status requires effect or ids", func(t *testing.T) {
		rt := ResultVisible
		r := Response{PacketType: PacketEffectStatus, ResultType: &rt}
		require.Error(t, r.Validate())
	})

	t.Run("well formed effect status passes", func(t *testing.T) {
		r := EffectStatusFor(ResultVisible, "summon")
		require.NoError(t, r.Validate())
	})
}

func TestResponseBuilderRejectsFamilyMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for family mismatch")
		}
	}()
	NewResponseBuilder(1, PacketEffectResult).Result(ResultVisible)
}

func TestResponseIsTerminating(t *testing.T) {
	require.True(t, EffectSuccess(1, "").IsTerminating())
	require.False(t, EffectSuccessTimed(1, "", time.Second).IsTerminating())
	require.True(t, EffectFailure(1, "").IsTerminating())
	require.True(t, EffectUnavailable(1, "").IsTerminating())
	require.True(t, EffectFinished(1).IsTerminating())
	require.True(t, EffectNotReady(1, "").IsTerminating())
	require.False(t, EffectRetry(1, "").IsTerminating())
	require.False(t, EffectPaused(1, time.Second).IsTerminating())
	require.False(t, EffectResumed(1, time.Second).IsTerminating())
	require.False(t, EffectQueue(1).IsTerminating())
}

func TestResponseOriginAndBroadcast(t *testing.T) {
	r := EffectSuccess(1, "ok")
	require.True(t, r.IsBroadcast())

	target := &fakeTarget{id: "conn-1"}
	bound := r.WithOrigin(target)
	require.False(t, bound.IsBroadcast())
	require.Equal(t, target, bound.Origin())
}

type fakeTarget struct{ id string }

func (f *fakeTarget) Send(*Response) error { return nil }
func (f *fakeTarget) ID() string           { return f.id }
