package gateway

import (
	"bufio"
	"encoding/json"
	"os"
)

// transcriptNames reads the ordered event names out of an events.jsonl
// file.
func transcriptNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev struct {
			Name string `json:"event_name"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, err
		}
		names = append(names, ev.Name)
	}
	return names, scanner.Err()
}
