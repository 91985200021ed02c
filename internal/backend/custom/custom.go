// internal/backend/custom/custom.go
package custom

import (
	"errors"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/backend/deepseek"
)

func init() {
	backend.Register("custom", func() backend.Backend {
		return &Provider{Provider: deepseek.New()}
	})
}

// Provider 自定义OpenAI兼容后端
// 与deepseek走同一套协议，但必须显式给出 base_url
type Provider struct {
	*deepseek.Provider
}

func (p *Provider) Initialize(config map[string]string) error {
	if config["base_url"] == "" {
		return errors.New("自定义后端必须配置 base_url")
	}
	if err := p.Provider.Initialize(config); err != nil {
		return err
	}
	p.SetName("Custom")
	return nil
}
