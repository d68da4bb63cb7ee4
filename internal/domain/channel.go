package domain

// Channel is an orderable sidebar entity. Positions are dense and strictly
// increasing by list order after any successful reconciliation; gaps are
// permitted only transiently during optimistic edits.
type Channel struct {
	ID        ChannelID   `json:"id"`
	Name      ChannelName `json:"name"`
	Community CommunityID `json:"community_id"`
	Position  int         `json:"position"`
}
