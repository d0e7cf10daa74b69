package config

import "os"

const redacted = "***"

// Secret 保存凭据原文，任何格式化输出均被遮蔽。
type Secret string

// Reveal 返回原文，仅供签名与鉴权使用。
func (s Secret) Reveal() string {
	return string(s)
}

// Empty 判断是否未配置。
func (s Secret) Empty() bool {
	return s == ""
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

// MarshalText 使 JSON/YAML 序列化同样输出遮蔽值。
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// expand 支持以 ${ENV} 形式引用环境变量。
func (s Secret) expand() Secret {
	return Secret(os.ExpandEnv(string(s)))
}
