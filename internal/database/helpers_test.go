package database

import (
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

func goquAsc(col string) exp.OrderedExpression {
	return goqu.C(col).Asc()
}
