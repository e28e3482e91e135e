package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/pixelwire/internal/config"
	"github.com/coreman2200/pixelwire/internal/method"
)

func TestSimBoardDrivesEveryBackend(t *testing.T) {
	board := simBoard()
	lane := 1
	for _, s := range []config.Strip{
		{Name: "bb", Family: "ws2812", Backend: "bitbang", Pins: []string{"GPIO4"}, Pixels: 4},
		{Name: "uart", Family: "sk6812", Backend: "uart", Pins: []string{"ttyS1"}, Pixels: 4, ElementSize: 4},
		{Name: "i2s", Family: "ws2811", Backend: "i2s", Pixels: 4},
		{Name: "mux", Family: "ws2812", Backend: "i2s-mux", Bus: 1, Channel: &lane, Pixels: 4},
		{Name: "rmt", Family: "ws2812", Backend: "rmt", Pixels: 4},
		{Name: "pio", Family: "ws2812", Backend: "pio", Pixels: 4},
		{Name: "spi", Family: "ws2812", Backend: "spi", Pins: []string{"SPI0.0"}, Pixels: 4},
		{Name: "nrz", Family: "ws2812", Backend: "nrzled", Pins: []string{"SPI0.1"}, Pixels: 4},
		{Name: "dot", Family: "apa102", Backend: "spi", Pins: []string{"SPI1.0"}, Pixels: 4},
		{Name: "dotbb", Family: "apa102", Backend: "bitbang", Pins: []string{"GPIO10", "GPIO11"}, Pixels: 4},
	} {
		t.Run(s.Name, func(t *testing.T) {
			mc, err := s.Method(nil, nil)
			require.NoError(t, err)
			m, err := method.New(mc, board)
			require.NoError(t, err)
			require.NoError(t, m.Initialize())
			defer m.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for i := 0; i < 3; i++ {
				m.Pixels()[0] = byte(i)
				require.NoError(t, m.UpdateContext(ctx, true))
			}
			assert.Equal(t, uint64(3), m.Frames())
		})
	}
}

func TestWithCORS(t *testing.T) {
	called := false
	h := withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}
