package repositories

import (
	"fmt"
	"strings"

	"github.com/mama165/sdk-go/database"
	"github.com/samber/lo"
)

// InspectRecord decodes a stored record for the badger inspectors.
// Index keys carry no payload worth showing and fall back to the default row.
func InspectRecord(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	switch {
	case strings.HasPrefix(key, "conv:"):
		c, err := decodeConversation(val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "CONVERSATION"
		row.EntityID = string(c.ID)
		row.Timestamp = c.CreatedAt.Format("15:04:05")
		row.Detail = fmt.Sprintf("%s <-> %s last=%q", c.CustomerID, c.ProviderID, lo.FromPtr(c.LastMessage))
	case strings.HasPrefix(key, "msg:"):
		m, err := decodeMessage(val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "MESSAGE"
		row.EntityID = m.ID.String()
		row.Timestamp = m.CreatedAt.Format("15:04:05.000")
		row.Detail = fmt.Sprintf("%s: %s", m.SenderID, m.Content)
	case strings.HasPrefix(key, "user_id:"):
		row.Type = "INDEX"
	case strings.HasPrefix(key, "user:"):
		u, err := decodeUser(val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "USER"
		row.EntityID = string(u.ID)
		row.Timestamp = u.CreatedAt.Format("15:04:05")
		row.Detail = fmt.Sprintf("%s <%s> %v", u.FullName, u.Email, u.Roles)
	default:
		row.Type = "INDEX"
	}
	return row
}
