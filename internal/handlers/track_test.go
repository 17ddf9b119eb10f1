package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBeaconIsAValidGIF(t *testing.T) {
	assert.Equal(t, []byte("GIF89a"), beaconGIF[:6])
	assert.Equal(t, byte(0x3b), beaconGIF[len(beaconGIF)-1], "trailer byte")
	assert.Len(t, beaconGIF, 43)

	// 1x1 logical screen
	assert.Equal(t, byte(0x01), beaconGIF[6])
	assert.Equal(t, byte(0x01), beaconGIF[8])
}

func TestSetupRoutesRegistersSurface(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&Handlers{}).SetupRoutes(r)

	paths := make(map[string]bool)
	for _, route := range r.Routes() {
		paths[route.Method+" "+route.Path] = true
	}

	assert.True(t, paths["GET /health"])
	assert.True(t, paths["GET /metrics"])
	assert.True(t, paths["GET /track/open/:uuid"])
	assert.True(t, paths["POST /api/v1/queue/send"])
	assert.True(t, paths["POST /api/v1/mailbox/sync"])
	assert.True(t, paths["GET /api/v1/queue/stats"])
}
