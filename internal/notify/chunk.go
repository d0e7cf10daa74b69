package notify

// DefaultChunkSize 为单条消息的安全长度，低于 Telegram 的 4096 上限。
const DefaultChunkSize = 3500

// Split 按字符数切分文本，拼接全部分片即得到原文。
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
