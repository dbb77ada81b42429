package rig

// BoneInfo is the classification of one bone computed before any segment is built.
type BoneInfo struct {
	Bone     Bone
	Children []string
	// Chain is the info of the IK-driving bone whose chain contains this bone.
	Chain      *BoneInfo
	ChainLevel int
	// Detached is set when breakable mode disconnected the bone from its parent.
	Detached bool
}

// Name of the classified bone.
func (i *BoneInfo) Name() string { return i.Bone.Name }

// HasParent reports whether the bone has a parent bone.
func (i *BoneInfo) HasParent() bool { return i.Bone.Parent != "" }

// ChainCount is the number of chain links above this bone still driven by IK.
func (i *BoneInfo) ChainCount() int {
	if i.Chain == nil {
		return 0
	}
	return i.Chain.Bone.IKLength - i.ChainLevel
}

// classify records parent, connectivity, deform and IK chain membership for
// every bone. Ancestors of an IK-driving bone get the chain info and their
// level while they remain inside the chain.
func classify(s *Skeleton) (map[string]*BoneInfo, []string) {
	infos := make(map[string]*BoneInfo, len(s.Bones))
	order := make([]string, 0, len(s.Bones))
	for _, b := range s.Bones {
		infos[b.Name] = &BoneInfo{Bone: b}
		order = append(order, b.Name)
	}
	for _, name := range order {
		info := infos[name]
		if p, ok := infos[info.Bone.Parent]; ok {
			p.Children = append(p.Children, name)
		}
	}
	for _, name := range order {
		ik := infos[name]
		if ik.Bone.IKTarget == "" {
			continue
		}
		level := 0
		parent := ik.Bone.Parent
		for parent != "" {
			level++
			info := infos[parent]
			if !info.Bone.InIKChain {
				break
			}
			info.Chain = ik
			info.ChainLevel = level
			parent = info.Bone.Parent
		}
	}
	return infos, order
}
