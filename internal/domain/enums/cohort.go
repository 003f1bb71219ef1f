package enums

type Cohort string

const (
	CohortUnselected Cohort = ""
	CohortM9to14     Cohort = "m9_14"
	CohortM15to19    Cohort = "m15_19"
)

func (c Cohort) Selected() bool {
	return c != CohortUnselected
}
