package model

// Properties 는 삽입 순서를 유지하는 string → any 매핑이다.
//
// 값으로 자기 자신(*Properties)이나 다른 엔트리를 참조할 수 있으며,
// 순환 참조 처리는 codec 에서 담당한다.
// 동시 쓰기에 안전하지 않다. Shipper 에 넘긴 뒤에는 읽기 전용으로 취급한다.
type Properties struct {
	keys []string
	vals map[string]any
}

func NewProperties() *Properties {
	return &Properties{vals: make(map[string]any)}
}

// Set 은 key 가 이미 있으면 값만 교체하고 순서는 유지한다.
func (p *Properties) Set(key string, v any) {
	if p.vals == nil {
		p.vals = make(map[string]any)
	}
	if _, ok := p.vals[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.vals[key] = v
}

func (p *Properties) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.vals[key]
	return v, ok
}

func (p *Properties) Delete(key string) {
	if p == nil {
		return
	}
	if _, ok := p.vals[key]; !ok {
		return
	}
	delete(p.vals, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys 는 삽입 순서대로 key 사본을 반환한다.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Range 는 삽입 순서대로 순회한다. fn 이 false 를 반환하면 중단.
func (p *Properties) Range(fn func(key string, v any) bool) {
	if p == nil {
		return
	}
	for _, k := range p.keys {
		if !fn(k, p.vals[k]) {
			return
		}
	}
}
