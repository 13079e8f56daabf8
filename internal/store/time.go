// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "time"

func formatRFC3339(wallSeconds float64) string {
	return time.Unix(0, int64(wallSeconds*1e9)).UTC().Format(time.RFC3339Nano)
}

func parseRFC3339(text string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / 1e9, nil
}
