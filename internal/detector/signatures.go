package detector

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/crashguard/internal/models"
)

// Signature describes the trace a hooking framework leaves on an exception.
// Every non-empty condition must hold for one exception in the cause chain.
type Signature struct {
	ID              string   `yaml:"id"`
	Framework       string   `yaml:"framework"`
	Types           []string `yaml:"types"`
	FrameContains   []string `yaml:"frame_contains"`
	MessageContains []string `yaml:"message_contains"`
}

// SignatureFile is the YAML root structure.
type SignatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// DefaultSignatures cover the common Xposed-family and Substrate hook bridges.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			ID:            "xposed-bridge",
			Framework:     "xposed",
			FrameContains: []string{"de.robv.android.xposed.XposedBridge", "de.robv.android.xposed.XC_MethodHook"},
		},
		{
			ID:            "edxposed-lsposed",
			Framework:     "xposed",
			FrameContains: []string{"com.elderdrivers.riru.edxp", "org.lsposed.lspd", "EdHooker_"},
		},
		{
			ID:            "cydia-substrate",
			Framework:     "substrate",
			FrameContains: []string{"com.saurik.substrate.MS"},
		},
	}
}

// LoadSignatures reads rules from path. An empty path or a missing file yields the defaults.
func LoadSignatures(path string) ([]Signature, error) {
	if path == "" {
		return DefaultSignatures(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSignatures(), nil
		}
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	var file SignatureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	for i, sig := range file.Signatures {
		if sig.empty() {
			return nil, fmt.Errorf("signature %d (%q) has no conditions", i, sig.ID)
		}
	}
	return file.Signatures, nil
}

func (s Signature) empty() bool {
	return len(s.Types) == 0 && len(s.FrameContains) == 0 && len(s.MessageContains) == 0
}

// Matches reports whether any exception in ex's cause chain carries the signature.
func (s Signature) Matches(ex models.Exception) bool {
	if s.empty() {
		return false
	}
	for _, link := range ex.Chain() {
		if s.matchesOne(link) {
			return true
		}
	}
	return false
}

func (s Signature) matchesOne(ex models.Exception) bool {
	if len(s.Types) > 0 && !typeIn(ex, s.Types) {
		return false
	}
	if len(s.MessageContains) > 0 && !containsAny(ex.Message, s.MessageContains) {
		return false
	}
	if len(s.FrameContains) > 0 && !framesContain(ex.Frames, s.FrameContains) {
		return false
	}
	return true
}

func typeIn(ex models.Exception, types []string) bool {
	simple := ex.SimpleType()
	for _, t := range types {
		if strings.EqualFold(t, ex.Type) || strings.EqualFold(t, simple) {
			return true
		}
	}
	return false
}

func framesContain(frames []string, keywords []string) bool {
	for _, frame := range frames {
		if containsAny(frame, keywords) {
			return true
		}
	}
	return false
}

func containsAny(value string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(value, kw) {
			return true
		}
	}
	return false
}
