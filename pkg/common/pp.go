package common

type PPLevel int8

const (
	PPL0 PPLevel = iota
	PPL1
	PPL2
)

func RepeatStr(str string, times int) string {
	ret := ""
	for i := 0; i < times; i++ {
		ret = ret + str
	}
	return ret
}
