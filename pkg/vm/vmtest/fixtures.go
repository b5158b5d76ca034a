// Package vmtest builds small class files for tests. Each fixture is the
// bytecode javac emits for the Java source shown in its comment.
package vmtest

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

const (
	public    = classfile.AccPublic
	private   = classfile.AccPrivate
	static    = classfile.AccStatic
	pubStatic = classfile.AccPublic | classfile.AccStatic
	pubClass  = classfile.AccPublic | classfile.AccSuper

	object     = "java/lang/Object"
	objectInit = "<init>"
)

func must(cf *classfile.ClassFile, err error) *classfile.ClassFile {
	if err != nil {
		panic(err)
	}
	return cf
}

var (
	mu      sync.Mutex
	encoded = make(map[string][]byte)
)

// build parses the class built by b and keeps its encoding for WriteClassPath.
func build(b *classfile.Builder) *classfile.ClassFile {
	data := b.Bytes()
	cf := must(classfile.ParseBytes(data))
	name, err := cf.ClassName()
	if err != nil {
		panic(err)
	}
	mu.Lock()
	encoded[name] = data
	mu.Unlock()
	return cf
}

// WriteClassPath writes every fixture as a .class file under dir, laid
// out by package, so dir can be used as a classpath.
func WriteClassPath(dir string) error {
	Classes()
	mu.Lock()
	defer mu.Unlock()
	for name, data := range encoded {
		path := filepath.Join(dir, filepath.FromSlash(name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// superInit emits aload_0; invokespecial super.<init>()V.
func superInit(b *classfile.Builder, a *classfile.Assembler, super string) *classfile.Assembler {
	return a.Op(0x2A).U16(0xB7, b.Methodref(super, objectInit, "()V"))
}

// Classes returns every fixture.
func Classes() []*classfile.ClassFile {
	return []*classfile.ClassFile{
		Calculator(),
		Counter(),
		Shape(),
		Named(),
		Square(),
		Broken(),
		Faulty(),
		Point(),
		Point3D(),
		Greeter(),
		Boxes(),
	}
}

// Calculator:
//
//	public class Calculator {
//	    private int total;
//	    public String label;
//	    public Calculator() {}
//	    public Calculator(int start) { total = start; }
//	    public static int add(int a, int b) { return a + b; }
//	    public int divide(int a, int b) { return a / b; }
//	    public void accumulate(int x) { total += x; }
//	    public int getTotal() { return total; }
//	    public long square(long x) { return x * x; }
//	    public double half(double d) { return d / 2.0; }
//	    public String greet(String name) { return new StringBuilder("Hello, ").append(name).toString(); }
//	    public boolean isPositive(int x) { return x > 0; }
//	    private int secret() { return 42; }
//	}
func Calculator() *classfile.ClassFile {
	const name = "demo/Calculator"
	b := classfile.NewBuilder(name, object, pubClass)
	b.Field(private, "total", "I")
	b.Field(public, "label", "Ljava/lang/String;")
	total := b.Fieldref(name, "total", "I")

	b.Method(public, objectInit, "()V",
		superInit(b, classfile.NewAssembler(), object).Op(0xB1).MustCode(1, 1))
	b.Method(public, objectInit, "(I)V",
		superInit(b, classfile.NewAssembler(), object).
			Op(0x2A).Op(0x1B).U16(0xB5, total). // this.total = start
			Op(0xB1).MustCode(2, 2))

	b.Method(pubStatic, "add", "(II)I",
		classfile.NewAssembler().Op(0x1A).Op(0x1B).Op(0x60).Op(0xAC).MustCode(2, 2))
	b.Method(public, "divide", "(II)I",
		classfile.NewAssembler().Op(0x1B).Op(0x1C).Op(0x6C).Op(0xAC).MustCode(2, 3))
	b.Method(public, "accumulate", "(I)V",
		classfile.NewAssembler().
			Op(0x2A).Op(0x59).U16(0xB4, total). // aload_0; dup; getfield
			Op(0x1B).Op(0x60).U16(0xB5, total). // iload_1; iadd; putfield
			Op(0xB1).MustCode(3, 2))
	b.Method(public, "getTotal", "()I",
		classfile.NewAssembler().Op(0x2A).U16(0xB4, total).Op(0xAC).MustCode(1, 1))
	b.Method(public, "square", "(J)J",
		classfile.NewAssembler().Op(0x1F).Op(0x1F).Op(0x69).Op(0xAD).MustCode(4, 3))
	b.Method(public, "half", "(D)D",
		classfile.NewAssembler().Op(0x27).U16(0x14, b.Double(2)).Op(0x6F).Op(0xAF).MustCode(4, 3))

	sb := "java/lang/StringBuilder"
	b.Method(public, "greet", "(Ljava/lang/String;)Ljava/lang/String;",
		classfile.NewAssembler().
			U16(0xBB, b.Class(sb)).Op(0x59). // new; dup
			U16(0x13, b.String("Hello, ")).
			U16(0xB7, b.Methodref(sb, objectInit, "(Ljava/lang/String;)V")).
			Op(0x2B).
			U16(0xB6, b.Methodref(sb, "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;")).
			U16(0xB6, b.Methodref(sb, "toString", "()Ljava/lang/String;")).
			Op(0xB0).MustCode(3, 2))

	b.Method(public, "isPositive", "(I)Z",
		classfile.NewAssembler().
			Op(0x1B).Branch(0x9D, "pos"). // iload_1; ifgt
			Op(0x03).Op(0xAC).
			Label("pos").
			Op(0x04).Op(0xAC).MustCode(1, 2))
	b.Method(private, "secret", "()I",
		classfile.NewAssembler().Op(0x10, 42).Op(0xAC).MustCode(1, 1))
	return build(b)
}

// Counter:
//
//	public class Counter {
//	    private int count;
//	    private Counter() {}
//	    public static Counter create() { return new Counter(); }
//	    public int increment() { return ++count; }
//	}
func Counter() *classfile.ClassFile {
	const name = "demo/Counter"
	b := classfile.NewBuilder(name, object, pubClass)
	b.Field(private, "count", "I")
	count := b.Fieldref(name, "count", "I")

	b.Method(private, objectInit, "()V",
		superInit(b, classfile.NewAssembler(), object).Op(0xB1).MustCode(1, 1))
	b.Method(pubStatic, "create", "()Ldemo/Counter;",
		classfile.NewAssembler().
			U16(0xBB, b.Class(name)).Op(0x59).
			U16(0xB7, b.Methodref(name, objectInit, "()V")).
			Op(0xB0).MustCode(2, 0))
	b.Method(public, "increment", "()I",
		classfile.NewAssembler().
			Op(0x2A).Op(0x59).U16(0xB4, count). // aload_0; dup; getfield
			Op(0x04).Op(0x60).Op(0x5A).         // iconst_1; iadd; dup_x1
			U16(0xB5, count).Op(0xAC).MustCode(3, 1))
	return build(b)
}

// Shape:
//
//	public abstract class Shape {
//	    public Shape() {}
//	    public abstract double area();
//	    public String describe() { return "shape"; }
//	}
func Shape() *classfile.ClassFile {
	b := classfile.NewBuilder("demo/Shape", object, pubClass|classfile.AccAbstract)
	b.Method(public, objectInit, "()V",
		superInit(b, classfile.NewAssembler(), object).Op(0xB1).MustCode(1, 1))
	b.Method(public|classfile.AccAbstract, "area", "()D", nil)
	b.Method(public, "describe", "()Ljava/lang/String;",
		classfile.NewAssembler().U16(0x13, b.String("shape")).Op(0xB0).MustCode(1, 1))
	return build(b)
}

// Named:
//
//	public interface Named {
//	    String name();
//	}
func Named() *classfile.ClassFile {
	b := classfile.NewBuilder("demo/Named", object, public|classfile.AccInterface|classfile.AccAbstract)
	b.Method(public|classfile.AccAbstract, "name", "()Ljava/lang/String;", nil)
	return build(b)
}

// Square:
//
//	public class Square extends Shape implements Named {
//	    private double side;
//	    public Square(double side) { this.side = side; }
//	    public double area() { return side * side; }
//	    public String name() { return "square"; }
//	}
func Square() *classfile.ClassFile {
	const name = "demo/Square"
	b := classfile.NewBuilder(name, "demo/Shape", pubClass)
	b.Implements("demo/Named")
	b.Field(private, "side", "D")
	side := b.Fieldref(name, "side", "D")

	b.Method(public, objectInit, "(D)V",
		superInit(b, classfile.NewAssembler(), "demo/Shape").
			Op(0x2A).Op(0x27).U16(0xB5, side). // aload_0; dload_1; putfield
			Op(0xB1).MustCode(3, 3))
	b.Method(public, "area", "()D",
		classfile.NewAssembler().
			Op(0x2A).U16(0xB4, side).
			Op(0x2A).U16(0xB4, side).
			Op(0x6B).Op(0xAF).MustCode(4, 1))
	b.Method(public, "name", "()Ljava/lang/String;",
		classfile.NewAssembler().U16(0x13, b.String("square")).Op(0xB0).MustCode(1, 1))
	return build(b)
}

// Broken:
//
//	public class Broken {
//	    static int value = 1 / 0;
//	    public Broken() {}
//	}
func Broken() *classfile.ClassFile {
	const name = "demo/Broken"
	b := classfile.NewBuilder(name, object, pubClass)
	b.Field(static, "value", "I")
	b.Method(public, objectInit, "()V",
		superInit(b, classfile.NewAssembler(), object).Op(0xB1).MustCode(1, 1))
	b.Method(static, "<clinit>", "()V",
		classfile.NewAssembler().
			Op(0x04).Op(0x03).Op(0x6C). // iconst_1; iconst_0; idiv
			U16(0xB3, b.Fieldref(name, "value", "I")).
			Op(0xB1).MustCode(2, 0))
	return build(b)
}

// Faulty:
//
//	public class Faulty {
//	    public Faulty(int x) {
//	        if (x < 0) throw new IllegalArgumentException("negative");
//	    }
//	    public void fail(String msg) { throw new IllegalStateException(msg); }
//	}
func Faulty() *classfile.ClassFile {
	b := classfile.NewBuilder("demo/Faulty", object, pubClass)
	iae := "java/lang/IllegalArgumentException"
	ise := "java/lang/IllegalStateException"

	b.Method(public, objectInit, "(I)V",
		superInit(b, classfile.NewAssembler(), object).
			Op(0x1B).Branch(0x9C, "ok"). // iload_1; ifge
			U16(0xBB, b.Class(iae)).Op(0x59).
			U16(0x13, b.String("negative")).
			U16(0xB7, b.Methodref(iae, objectInit, "(Ljava/lang/String;)V")).
			Op(0xBF).
			Label("ok").
			Op(0xB1).MustCode(3, 2))
	b.Method(public, "fail", "(Ljava/lang/String;)V",
		classfile.NewAssembler().
			U16(0xBB, b.Class(ise)).Op(0x59).Op(0x2B).
			U16(0xB7, b.Methodref(ise, objectInit, "(Ljava/lang/String;)V")).
			Op(0xBF).MustCode(3, 2))
	return build(b)
}

// Point:
//
//	public class Point {
//	    private int x;
//	    private int y;
//	    public Point(int x, int y) { this.x = x; this.y = y; }
//	    public int getX() { return x; }
//	    public String toString() { return "Point"; }
//	}
func Point() *classfile.ClassFile {
	const name = "demo/Point"
	b := classfile.NewBuilder(name, object, pubClass)
	b.Field(private, "x", "I")
	b.Field(private, "y", "I")
	x := b.Fieldref(name, "x", "I")
	y := b.Fieldref(name, "y", "I")

	b.Method(public, objectInit, "(II)V",
		superInit(b, classfile.NewAssembler(), object).
			Op(0x2A).Op(0x1B).U16(0xB5, x).
			Op(0x2A).Op(0x1C).U16(0xB5, y).
			Op(0xB1).MustCode(2, 3))
	b.Method(public, "getX", "()I",
		classfile.NewAssembler().Op(0x2A).U16(0xB4, x).Op(0xAC).MustCode(1, 1))
	b.Method(public, "toString", "()Ljava/lang/String;",
		classfile.NewAssembler().U16(0x13, b.String("Point")).Op(0xB0).MustCode(1, 1))
	return build(b)
}

// Point3D:
//
//	public class Point3D extends Point {
//	    private int z;
//	    public Point3D(int x, int y, int z) { super(x, y); this.z = z; }
//	    public int getZ() { return z; }
//	}
func Point3D() *classfile.ClassFile {
	const name = "demo/Point3D"
	b := classfile.NewBuilder(name, "demo/Point", pubClass)
	b.Field(private, "z", "I")
	z := b.Fieldref(name, "z", "I")

	b.Method(public, objectInit, "(III)V",
		classfile.NewAssembler().
			Op(0x2A).Op(0x1B).Op(0x1C).
			U16(0xB7, b.Methodref("demo/Point", objectInit, "(II)V")).
			Op(0x2A).Op(0x1D).U16(0xB5, z).
			Op(0xB1).MustCode(3, 4))
	b.Method(public, "getZ", "()I",
		classfile.NewAssembler().Op(0x2A).U16(0xB4, z).Op(0xAC).MustCode(1, 1))
	return build(b)
}

// Greeter:
//
//	public class Greeter {
//	    public static void main(String[] args) {
//	        System.out.println("Hello, World!");
//	        int sum = 0;
//	        for (int i = 1; i <= 10; i++) sum += i;
//	        System.out.println(sum);
//	    }
//	    public static int safeDivide(int a, int b) {
//	        try { return a / b; } catch (ArithmeticException e) { return -1; }
//	    }
//	    public static int recurse() { return recurse(); }
//	}
func Greeter() *classfile.ClassFile {
	const name = "demo/Greeter"
	b := classfile.NewBuilder(name, object, pubClass)
	out := b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	ps := "java/io/PrintStream"

	b.Method(pubStatic, "main", "([Ljava/lang/String;)V",
		classfile.NewAssembler().
			U16(0xB2, out).U16(0x13, b.String("Hello, World!")).
			U16(0xB6, b.Methodref(ps, "println", "(Ljava/lang/String;)V")).
			Op(0x03).Op(0x3C). // sum = 0
			Op(0x04).Op(0x3D). // i = 1
			Label("loop").
			Op(0x1C).Op(0x10, 10).Branch(0xA3, "end"). // if i > 10
			Op(0x1B).Op(0x1C).Op(0x60).Op(0x3C).       // sum += i
			Op(0x84, 2, 1).                            // i++
			Branch(0xA7, "loop").
			Label("end").
			U16(0xB2, out).Op(0x1B).
			U16(0xB6, b.Methodref(ps, "println", "(I)V")).
			Op(0xB1).MustCode(3, 3))

	b.Method(pubStatic, "safeDivide", "(II)I",
		classfile.NewAssembler().
			Op(0x1A).Op(0x1B).Op(0x6C).Op(0xAC). // pc 0-3
			Op(0x57).Op(0x02).Op(0xAC).          // handler: pop; iconst_m1; ireturn
			MustCode(2, 2, classfile.ExceptionHandler{
				StartPC:   0,
				EndPC:     4,
				HandlerPC: 4,
				CatchType: b.Class("java/lang/ArithmeticException"),
			}))

	b.Method(pubStatic, "recurse", "()I",
		classfile.NewAssembler().U16(0xB8, b.Methodref(name, "recurse", "()I")).Op(0xAC).MustCode(1, 0))
	return build(b)
}

// Boxes:
//
//	public class Boxes {
//	    public static Integer box(int v) { return Integer.valueOf(v); }
//	    public static int lookup() {
//	        HashMap map = new HashMap();
//	        map.put("a", Integer.valueOf(5));
//	        return ((Integer) map.get("a")).intValue();
//	    }
//	}
func Boxes() *classfile.ClassFile {
	b := classfile.NewBuilder("demo/Boxes", object, pubClass)
	integer := "java/lang/Integer"
	hashMap := "java/util/HashMap"
	valueOf := b.Methodref(integer, "valueOf", "(I)Ljava/lang/Integer;")
	key := b.String("a")

	b.Method(pubStatic, "box", "(I)Ljava/lang/Integer;",
		classfile.NewAssembler().Op(0x1A).U16(0xB8, valueOf).Op(0xB0).MustCode(1, 1))
	b.Method(pubStatic, "lookup", "()I",
		classfile.NewAssembler().
			U16(0xBB, b.Class(hashMap)).Op(0x59).
			U16(0xB7, b.Methodref(hashMap, objectInit, "()V")).
			Op(0x4B).                                            // astore_0
			Op(0x2A).U16(0x13, key).Op(0x08).U16(0xB8, valueOf). // map, "a", valueOf(5)
			U16(0xB6, b.Methodref(hashMap, "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;")).
			Op(0x57).
			Op(0x2A).U16(0x13, key).
			U16(0xB6, b.Methodref(hashMap, "get", "(Ljava/lang/Object;)Ljava/lang/Object;")).
			U16(0xC0, b.Class(integer)).
			U16(0xB6, b.Methodref(integer, "intValue", "()I")).
			Op(0xAC).MustCode(4, 1))
	return build(b)
}
