package event

import "github.com/l1jgo/worldcore/internal/core/ecs"

type Created struct {
	UID ecs.UID
	Def string
}

type Moved struct {
	UID  ecs.UID
	From ecs.Owner
	To   ecs.Owner
}

// Stacked reports that From was merged into Into and deleted.
type Stacked struct {
	Into   ecs.UID
	From   ecs.UID
	Amount int // Into's amount after the merge
}

type Deleted struct {
	UID ecs.UID
	Def string
}

type AccountChanged struct {
	Name    string
	Blocked bool
}

// Reindexed is published after uids were compacted.
type Reindexed struct {
	Entities int
}
