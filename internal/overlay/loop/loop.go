// Package loop 实现 spec §5 描述的单线程事件循环原语：所有覆盖网络
// 组件状态都限定在同一个循环内，跨线程的投递只能通过 CallSoon（对应
// spec 的 call_soon）或 CallEvery（对应 call_every）完成。
//
// 借鉴 Arceliar/ironwood 里 dhtree/router 两个单线程 actor 的做法：用
// phony.Inbox 把"串行 FIFO 执行已投递的闭包"这一不变量做成类型系统能
// 检查的东西，而不是手写一个裸 goroutine+channel 循环再指望调用方小心
// 翼翼地不产生数据竞争。
package loop

import (
	"time"

	"github.com/Arceliar/phony"
	"github.com/benbjohnson/clock"
)

// Loop 是单个节点的事件循环。嵌入 phony.Inbox 使 Loop 自身就是一个
// phony.Actor：投递给它的闭包严格按投递顺序串行执行（spec §5
// "callbacks run serially in FIFO order of posting"）。
type Loop struct {
	phony.Inbox
	clock clock.Clock
}

// New 创建一个使用给定时钟的事件循环。c 为 nil 时使用真实时钟；测试
// 中传入 clock.NewMock() 以便确定性地驱动超时/TTL 场景
// （spec §8 Scenario 4、6）。
func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.New()
	}
	return &Loop{clock: c}
}

// Clock 返回此循环使用的时钟。
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Now 返回循环时钟的当前时间。
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// CallSoon 在循环的下一轮调度 fn。from 标识发起调用的 actor
// （调用方不是某个 actor 时传 nil），供 phony 做可重入检测。
func (l *Loop) CallSoon(from phony.Actor, fn func()) {
	l.Act(from, fn)
}

// CallEvery 安排 fn 每隔 interval 在循环上执行一次，直到返回的
// stop 函数被调用。fn 本身总是经由 CallSoon 串行投递，从不在独立的
// goroutine 上直接运行。
func (l *Loop) CallEvery(interval time.Duration, fn func()) (stop func()) {
	done := make(chan struct{})
	ticker := l.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Act(nil, fn)
			}
		}
	}()
	return func() { close(done) }
}

// AfterFunc 安排 fn 在 d 之后经由循环执行一次，返回可取消的定时器。
func (l *Loop) AfterFunc(d time.Duration, fn func()) *clock.Timer {
	return l.clock.AfterFunc(d, func() { l.Act(nil, fn) })
}
