package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cell-tester/internal/api/models"
	"cell-tester/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProfileHandler lists the cell protocol profiles available on disk
type ProfileHandler struct {
	profileDir string
	log        *zap.Logger
}

// NewProfileHandler creates a profile handler. An empty dir falls back to
// $PROFILE_DIR, then ./profiles.
func NewProfileHandler(dir string, log *zap.Logger) *ProfileHandler {
	if dir == "" {
		dir = os.Getenv("PROFILE_DIR")
	}
	if dir == "" {
		dir = "profiles"
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	log.Debug("profile directory", zap.String("dir", dir))
	return &ProfileHandler{profileDir: dir, log: log}
}

// ListProfiles handles GET /api/v1/profiles
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	profiles := []models.ProfileInfo{}

	entries, err := os.ReadDir(h.profileDir)
	if err != nil {
		// A station without a profile directory simply has no profiles.
		h.log.Debug("failed to read profile directory", zap.String("dir", h.profileDir), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"profiles": profiles})
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(h.profileDir, entry.Name())
		p, err := config.LoadProfile(path)
		if err != nil {
			h.log.Warn("skipping invalid profile", zap.String("file", path), zap.Error(err))
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		name := p.Name
		if name == "" {
			name = id
		}
		profiles = append(profiles, models.ProfileInfo{
			ID:   id,
			Name: name,
			File: path,
			Protocol: models.ProtocolInfo{
				ChargeComplianceV:    p.ChargeComplianceV,
				DischargeComplianceV: p.DischargeComplianceV,
				R0PulseCurrentA:      p.R0PulseCurrentA,
				R0PulseWidthMs:       p.R0PulseWidthMs,
				DCIRCurrentA:         p.DCIRCurrentA,
				DCIRDurationS:        p.DCIRDurationS,
				SampleRateHz:         p.SampleRateHz,
			},
		})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
