package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// appInfo is the slice of the info endpoint the TUI renders.
type appInfo struct {
	Name     string                 `json:"name"`
	Spawned  int64                  `json:"spawned"`
	Running  int                    `json:"running"`
	Counters map[string]counterInfo `json:"counters"`
}

type counterInfo struct {
	Blocked    int64 `json:"blocked"`
	Nonblocked int64 `json:"nonblocked"`
	Reply      int64 `json:"reply"`
}

type snapshotMsg struct {
	apps []appInfo
}

type errMsg struct {
	err error
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// fetchSnapshot polls the API for the full application list and per-app info.
func fetchSnapshot(apiURL string) tea.Cmd {
	return func() tea.Msg {
		var list struct {
			Apps []string `json:"apps"`
		}
		if err := getJSON(apiURL+"/v1/apps", &list); err != nil {
			return errMsg{err}
		}
		sort.Strings(list.Apps)

		apps := make([]appInfo, 0, len(list.Apps))
		for _, name := range list.Apps {
			var info appInfo
			if err := getJSON(fmt.Sprintf("%s/v1/apps/%s/info", apiURL, name), &info); err != nil {
				return errMsg{err}
			}
			apps = append(apps, info)
		}
		return snapshotMsg{apps: apps}
	}
}

func getJSON(url string, v any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
