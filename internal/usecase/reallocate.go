package usecase

import "sort"

// 最大剰余法でtotalCentsをsharesの比率に配分する。
// 戻り値の合計は必ずtotalCentsに一致する。
// sharesが全てゼロのときは均等割り（端数は先頭から1ずつ）。
func allocateByLargestRemainder(shares []int64, totalCents int64) []int64 {
	n := len(shares)
	out := make([]int64, n)
	if n == 0 || totalCents <= 0 {
		return out
	}

	var sum int64
	for _, s := range shares {
		sum += s
	}

	if sum <= 0 {
		base := totalCents / int64(n)
		rest := totalCents % int64(n)
		for i := range out {
			out[i] = base
			if int64(i) < rest {
				out[i]++
			}
		}
		return out
	}

	type rem struct {
		idx int
		r   int64
	}
	rems := make([]rem, n)
	var allocated int64
	for i, s := range shares {
		out[i] = totalCents * s / sum
		allocated += out[i]
		rems[i] = rem{idx: i, r: totalCents * s % sum}
	}

	// 剰余の大きい順、同値はインデックスの小さい方が先
	sort.Slice(rems, func(a, b int) bool {
		if rems[a].r != rems[b].r {
			return rems[a].r > rems[b].r
		}
		return rems[a].idx < rems[b].idx
	})

	for i := int64(0); i < totalCents-allocated; i++ {
		out[rems[i].idx]++
	}
	return out
}
