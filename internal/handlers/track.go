package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// beaconGIF is a fixed 1x1 transparent GIF served by the open-tracking
// beacon. Mail clients render it invisibly inside HTML bodies.
var beaconGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// TrackOpen records the first open of an outbound message. The response is
// always the beacon image; only the status code distinguishes an unknown
// token, so a broken image never appears in the recipient's client.
func (h *Handlers) TrackOpen(c *gin.Context) {
	token := c.Param("uuid")

	known, err := h.repo.MarkOpened(token, time.Now())
	if err != nil {
		logrus.Errorf("Failed to mark email opened: %v", err)
		c.Data(http.StatusInternalServerError, "image/gif", beaconGIF)
		return
	}

	status := http.StatusOK
	if !known {
		status = http.StatusNotFound
	}

	c.Header("Cache-Control", "no-store")
	c.Data(status, "image/gif", beaconGIF)
}
