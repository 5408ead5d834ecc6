package telegram

import "strings"

// Телеграм отклоняет сообщения длиннее 4096 знаков.
const messageLimit = 4096

// SplitMessage режет длинный текст на части, укладывающиеся в лимит
// Телеграма. Разрез предпочитает границу строки, чтобы пункты списка
// рекомендаций и отчёта не рвались посередине.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + messageLimit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		// Ищем ближайший перенос строки слева от жёсткой границы.
		cut := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == -1 {
			cut = end
		}

		chunk := strings.Trim(string(runes[start:cut]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = cut
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}
